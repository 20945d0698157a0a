package cidr

import (
	"net/netip"
	"testing"
)

func TestPrefixContains(t *testing.T) {
	tests := []struct {
		name  string
		outer string
		inner string
		want  bool
	}{
		{"identical", "10.0.0.0/24", "10.0.0.0/24", true},
		{"proper subset", "10.0.0.0/16", "10.0.1.0/24", true},
		{"inner larger", "10.0.1.0/24", "10.0.0.0/16", false},
		{"disjoint", "10.0.0.0/24", "10.0.1.0/24", false},
		{"overlap start only", "10.0.0.0/25", "10.0.0.64/25", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outer := netip.MustParsePrefix(tt.outer)
			inner := netip.MustParsePrefix(tt.inner)
			if got := PrefixContains(outer, inner); got != tt.want {
				t.Errorf("PrefixContains(%s, %s) = %v, want %v", tt.outer, tt.inner, got, tt.want)
			}
		})
	}
}

func TestParseCIDR(t *testing.T) {
	p, err := ParseCIDR("192.168.1.5/24")
	if err != nil {
		t.Fatalf("ParseCIDR: %v", err)
	}
	if p.String() != "192.168.1.0/24" {
		t.Errorf("expected masked prefix 192.168.1.0/24, got %s", p)
	}

	if _, err := ParseCIDR("fd00::/64"); err == nil {
		t.Error("expected error for IPv6 prefix")
	}
	if _, err := ParseCIDR("not-a-cidr"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestParseIPv4(t *testing.T) {
	if _, err := ParseIPv4("10.0.0.1"); err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	if _, err := ParseIPv4("::1"); err == nil {
		t.Error("expected error for IPv6 address")
	}
}

func TestAddrUint32RoundTrip(t *testing.T) {
	tests := []struct {
		addr string
		num  uint32
	}{
		{"0.0.0.0", 0},
		{"0.0.0.1", 1},
		{"10.0.0.0", 167772160},
		{"10.0.0.255", 167772415},
		{"255.255.255.255", 4294967295},
	}
	for _, tt := range tests {
		a := netip.MustParseAddr(tt.addr)
		if got := AddrToUint32(a); got != tt.num {
			t.Errorf("AddrToUint32(%s) = %d, want %d", tt.addr, got, tt.num)
		}
		if got := Uint32ToAddr(tt.num); got != a {
			t.Errorf("Uint32ToAddr(%d) = %s, want %s", tt.num, got, tt.addr)
		}
	}
}

func TestFirstLastAddr(t *testing.T) {
	p := netip.MustParsePrefix("10.0.0.0/24")
	if got := FirstAddr(p); got.String() != "10.0.0.0" {
		t.Errorf("FirstAddr = %s, want 10.0.0.0", got)
	}
	if got := LastAddr(p); got.String() != "10.0.0.255" {
		t.Errorf("LastAddr = %s, want 10.0.0.255", got)
	}

	p = netip.MustParsePrefix("10.0.0.0/30")
	if got := LastAddr(p); got.String() != "10.0.0.3" {
		t.Errorf("LastAddr(/30) = %s, want 10.0.0.3", got)
	}
}
