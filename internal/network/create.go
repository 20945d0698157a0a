package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// IPRef returns the ip-model reference for this network.
func (n *Network) IPRef() ip.Ref {
	return ip.Ref{
		NetworkUUID: n.UUID,
		Bucket:      n.IPBucket(),
		UseStrings:  n.IPUseStrings,
		Start:       n.ProvisionStart,
		End:         n.ProvisionEnd,
	}
}

var createOpts = params.Opts{
	Required: map[string]params.ValidateFn{
		"name":               params.String,
		"subnet":             params.CIDR,
		"vlan_id":            params.IntRange(0, 4094),
		"nic_tag":            params.String,
		"provision_start_ip": params.IP,
		"provision_end_ip":   params.IP,
	},
	Optional: map[string]params.ValidateFn{
		"uuid":        params.UUID,
		"gateway":     params.IP,
		"resolvers":   params.IPArray,
		"mtu":         params.IntRange(MinMTU, MaxMTU),
		"owner_uuids": params.UUIDArray,
		"fabric":      params.Bool,
		"vnet_id":     params.IntRange(0, MaxVnetID),
	},
	After: []params.AfterFn{checkCreateParams},
}

// checkCreateParams runs the cross-field invariants for network creation:
// the provision range and gateway must fall inside the subnet, the range
// must be ordered, and fabric networks must carry a vnet_id.
func checkCreateParams(ctx context.Context, pctx *params.Context, original, validated params.Bag) error {
	subnet := validated["subnet"].(netip.Prefix)

	start := validated["provision_start_ip"].(netip.Addr)
	end := validated["provision_end_ip"].(netip.Addr)
	var errs []*params.FieldError
	if !cidr.PrefixContainsAddr(subnet, start) {
		errs = append(errs, params.Invalid("provision_start_ip", "provision_start_ip cannot be outside subnet", start.String()))
	}
	if !cidr.PrefixContainsAddr(subnet, end) {
		errs = append(errs, params.Invalid("provision_end_ip", "provision_end_ip cannot be outside subnet", end.String()))
	}
	if cidr.AddrToUint32(start) > cidr.AddrToUint32(end) {
		errs = append(errs, params.Invalid("provision_end_ip", "provision_start_ip must come before provision_end_ip"))
	}
	if gw, ok := validated["gateway"].(netip.Addr); ok && !cidr.PrefixContainsAddr(subnet, gw) {
		errs = append(errs, params.Invalid("gateway", "gateway cannot be outside subnet", gw.String()))
	}
	if validated.GetBool("fabric") && !validated.Has("vnet_id") {
		errs = append(errs, params.Missing("vnet_id"))
	}
	if len(errs) > 0 {
		return &params.ValidationError{Errors: errs}
	}
	return nil
}

// Create validates raw parameters, persists the network, creates its IP
// bucket, and reserves administrative placeholder rows for the gateway and
// any resolvers that fall inside the subnet. The network row and the
// placeholder rows commit as one batch.
func Create(ctx context.Context, pctx *params.Context, raw params.Bag) (*Network, error) {
	validated, err := params.Validate(ctx, pctx, raw, createOpts)
	if err != nil {
		return nil, err
	}

	n := &Network{
		Subnet:         validated["subnet"].(netip.Prefix),
		VLANID:         int(validated["vlan_id"].(int64)),
		ProvisionStart: validated["provision_start_ip"].(netip.Addr),
		ProvisionEnd:   validated["provision_end_ip"].(netip.Addr),
		MTU:            DefaultMTU,
		// New networks use the string address encoding; the numeric
		// generation exists for rows written before the switch.
		IPUseStrings: true,
	}
	n.Name, _ = validated.GetString("name")
	n.NicTag, _ = validated.GetString("nic_tag")
	if u, ok := validated.GetString("uuid"); ok {
		n.UUID = u
	} else {
		n.UUID = uuid.NewString()
	}
	if gw, ok := validated["gateway"].(netip.Addr); ok {
		n.Gateway = gw
	}
	if rs, ok := validated["resolvers"].([]netip.Addr); ok {
		n.Resolvers = rs
	}
	if mtu, ok := validated["mtu"].(int64); ok {
		n.MTU = int(mtu)
	}
	if owners, ok := validated["owner_uuids"].([]string); ok {
		n.OwnerUUIDs = owners
	}
	if validated.GetBool("fabric") {
		n.Fabric = true
		n.VnetID = uint32(validated["vnet_id"].(int64))
	}

	if err := pctx.Store.CreateBucket(ctx, BucketNetworks); err != nil {
		return nil, err
	}
	if err := pctx.Store.CreateBucket(ctx, n.IPBucket()); err != nil {
		return nil, err
	}

	muts := []storage.Mutation{n.Mutation()}
	ref := n.IPRef()
	for _, addr := range n.placeholderAddrs() {
		muts = append(muts, ip.Placeholder(ref, addr).Mutation())
	}
	if err := storage.Commit(ctx, pctx.Store, muts); err != nil {
		return nil, err
	}
	pctx.Log.InfoContext(ctx, "created network",
		"network_uuid", n.UUID, "subnet", n.Subnet.String(), "nic_tag", n.NicTag)
	return n, nil
}

// placeholderAddrs lists the addresses reserved at creation: the gateway
// plus any resolvers inside the subnet.
func (n *Network) placeholderAddrs() []netip.Addr {
	seen := make(map[netip.Addr]bool)
	var out []netip.Addr
	add := func(a netip.Addr) {
		if a.IsValid() && n.Contains(a) && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	add(n.Gateway)
	for _, r := range n.Resolvers {
		add(r)
	}
	return out
}

var updateOpts = params.Opts{
	Optional: map[string]params.ValidateFn{
		"name":        params.String,
		"gateway":     params.IP,
		"resolvers":   params.IPArray,
		"mtu":         params.IntRange(MinMTU, MaxMTU),
		"owner_uuids": params.UUIDArray,
	},
}

// Update applies mutable fields to a network. vlan_id and nic_tag are
// immutable after creation: changing them would orphan the NICs already
// provisioned against the old pair.
func Update(ctx context.Context, pctx *params.Context, uuid string, raw params.Bag) (*Network, error) {
	if raw.Has("vlan_id") {
		return nil, &params.ValidationError{Errors: []*params.FieldError{
			params.Invalid("vlan_id", "property cannot be changed"),
		}}
	}
	if raw.Has("nic_tag") {
		return nil, &params.ValidationError{Errors: []*params.FieldError{
			params.Invalid("nic_tag", "property cannot be changed"),
		}}
	}
	validated, err := params.Validate(ctx, pctx, raw, updateOpts)
	if err != nil {
		return nil, err
	}

	n, err := Get(ctx, pctx, uuid)
	if err != nil {
		return nil, err
	}
	if v, ok := validated.GetString("name"); ok {
		n.Name = v
	}
	if gw, ok := validated["gateway"].(netip.Addr); ok {
		if !n.Contains(gw) {
			return nil, &params.ValidationError{Errors: []*params.FieldError{
				params.Invalid("gateway", "gateway cannot be outside subnet", gw.String()),
			}}
		}
		n.Gateway = gw
	}
	if rs, ok := validated["resolvers"].([]netip.Addr); ok {
		n.Resolvers = rs
	}
	if mtu, ok := validated["mtu"].(int64); ok {
		n.MTU = int(mtu)
	}
	if owners, ok := validated["owner_uuids"].([]string); ok {
		n.OwnerUUIDs = owners
	}

	if err := storage.Commit(ctx, pctx.Store, []storage.Mutation{n.Mutation()}); err != nil {
		return nil, err
	}
	return n, nil
}

// Delete removes a network. It refuses while any IP row is held by a real
// belongs-to entity or any NIC still references the network; administrative
// placeholder rows do not block deletion.
func Delete(ctx context.Context, pctx *params.Context, nicsBucket string, uuid string) error {
	n, err := Get(ctx, pctx, uuid)
	if err != nil {
		return err
	}

	ips, err := ip.List(ctx, pctx, n.IPRef())
	if err != nil && !errors.Is(err, storage.ErrBucketNotFound) {
		return err
	}
	for _, rec := range ips {
		if !rec.Provisionable() {
			return fmt.Errorf("%w: IP %s in use", ErrNetworkInUse, rec.Addr)
		}
	}

	nics, err := pctx.Store.FindObjects(ctx, nicsBucket,
		storage.NewFilter().Eq("network_uuid", uuid), storage.FindOptions{Limit: 1})
	if err != nil && !errors.Is(err, storage.ErrBucketNotFound) {
		return err
	}
	if len(nics) > 0 {
		return fmt.Errorf("%w: NICs still attached", ErrNetworkInUse)
	}

	if err := pctx.Store.DeleteObject(ctx, BucketNetworks.Name, uuid); err != nil {
		return err
	}
	pctx.Log.InfoContext(ctx, "deleted network", "network_uuid", uuid)
	return nil
}
