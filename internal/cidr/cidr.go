// Package cidr provides reusable CIDR math utilities for containment checks,
// address/integer conversion, and provision-range arithmetic.
package cidr

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// PrefixContains reports whether outer fully contains inner.
// Both prefixes must be valid IPv4 prefixes; returns false otherwise.
func PrefixContains(outer, inner netip.Prefix) bool {
	if !outer.IsValid() || !inner.IsValid() {
		return false
	}
	if !outer.Addr().Is4() || !inner.Addr().Is4() {
		return false
	}
	// inner must have equal or longer prefix length
	if inner.Bits() < outer.Bits() {
		return false
	}
	// both first and last address of inner must be within outer
	return outer.Contains(inner.Masked().Addr()) && outer.Contains(LastAddr(inner))
}

// PrefixContainsAddr reports whether prefix contains addr.
func PrefixContainsAddr(prefix netip.Prefix, addr netip.Addr) bool {
	if !prefix.IsValid() || !addr.IsValid() {
		return false
	}
	return prefix.Contains(addr)
}

// ParseCIDR parses an IPv4 CIDR prefix, rejecting IPv6.
func ParseCIDR(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR: %q", s)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("only IPv4 supported: %s", s)
	}
	return p.Masked(), nil
}

// ParseIPv4 parses an IPv4 address, rejecting IPv6.
func ParseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address: %q", s)
	}
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("only IPv4 supported: %s", s)
	}
	return a, nil
}

// AddrToUint32 converts an IPv4 address to its 32-bit integer form.
func AddrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

// Uint32ToAddr converts a 32-bit integer to an IPv4 address.
func Uint32ToAddr(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}

// LastAddr returns the last (broadcast) address in a prefix.
func LastAddr(p netip.Prefix) netip.Addr {
	masked := p.Masked().Addr()
	hostBits := 32 - p.Bits()
	return Uint32ToAddr(AddrToUint32(masked) | (1<<hostBits - 1))
}

// FirstAddr returns the network (zero host) address of a prefix.
func FirstAddr(p netip.Prefix) netip.Addr {
	return p.Masked().Addr()
}
