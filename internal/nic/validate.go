package nic

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/network"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// builtinNicTags always exist, independent of any provisioned network.
var builtinNicTags = map[string]bool{
	"admin":    true,
	"external": true,
	"internal": true,
}

// CodeAmbiguousNetwork tags the error for a tag+VLAN+address lookup that
// matched more than one network.
const CodeAmbiguousNetwork = "AmbiguousNetwork"

// validateMAC parses a MAC parameter into integer form.
func validateMAC(ctx context.Context, pctx *params.Context, name string, value any) (params.Result, error) {
	s, ok := value.(string)
	if !ok {
		return params.Result{}, params.Invalid(name, "must be a string")
	}
	mac, err := MACFromString(s)
	if err != nil {
		return params.Result{}, params.Invalid(name, "invalid MAC address", s)
	}
	return params.Result{Value: mac}, nil
}

// validateNicTag parses a tag, possibly suffixed "/<overlay id>". The base
// tag must exist; an overlay suffix must be a well-formed 24-bit identifier
// and yields the derived vnet_id field.
func validateNicTag(ctx context.Context, pctx *params.Context, name string, value any) (params.Result, error) {
	s, ok := value.(string)
	if !ok {
		return params.Result{}, params.Invalid(name, "must be a string")
	}
	parts := strings.Split(s, "/")
	if len(parts) > 2 {
		return params.Result{}, params.Invalid(name, "nic_tag must not contain more than one '/'", s)
	}

	base := parts[0]
	exists, err := nicTagExists(ctx, pctx, base)
	if err != nil {
		return params.Result{}, err
	}
	if !exists {
		return params.Result{}, params.Invalid(name, "nic tag does not exist", base)
	}

	res := params.Result{Value: base}
	if len(parts) == 2 {
		vnet, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil || vnet > network.MaxVnetID {
			return params.Result{}, params.Invalid(name, "invalid overlay identifier", parts[1])
		}
		res.Extra = params.Bag{"vnet_id": uint32(vnet)}
	}
	return res, nil
}

// nicTagExists checks a base tag against the builtins and the tags of
// provisioned networks and pools.
func nicTagExists(ctx context.Context, pctx *params.Context, tag string) (bool, error) {
	if builtinNicTags[tag] {
		return true, nil
	}
	objs, err := pctx.Store.FindObjects(ctx, network.BucketNetworks.Name,
		storage.NewFilter().Eq("nic_tag", tag), storage.FindOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	if len(objs) > 0 {
		return true, nil
	}
	pools, err := pctx.Store.FindObjects(ctx, network.BucketPools.Name,
		storage.NewFilter().Eq("nic_tag", tag), storage.FindOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(pools) > 0, nil
}

// validateNetworkParam resolves a network-or-pool parameter. It derives
// either the "network" or "network_pool" field for the after-checks.
func validateNetworkParam(ctx context.Context, pctx *params.Context, name string, value any) (params.Result, error) {
	s, ok := value.(string)
	if !ok {
		return params.Result{}, params.Invalid(name, "must be a string")
	}
	target, err := network.Resolve(ctx, pctx, name, s)
	if err != nil {
		return params.Result{}, err
	}
	res := params.Result{Value: target.UUID()}
	if target.IsPool() {
		res.Extra = params.Bag{"network_pool": target.Pool()}
	} else {
		res.Extra = params.Bag{"network": target.Network()}
	}
	return res, nil
}

// checkNetworkParams is the cross-field check tying a NIC's network
// selection together. It runs after the individual fields validate:
//
//   - an explicit ip cannot be combined with a network pool;
//   - a resolved network must agree with any explicitly supplied nic_tag
//     and vlan_id, and fills them in when absent;
//   - a resolved pool is narrowed against the supplied criteria and owner;
//   - an ip without a network requires nic_tag and vlan_id, which locate
//     the unique containing network (ambiguity is an error listing every
//     match).
func checkNetworkParams(ctx context.Context, pctx *params.Context, original, validated params.Bag) error {
	if pool, ok := validated["network_pool"].(*network.Pool); ok {
		if owner, hasOwner := validated.GetString("owner_uuid"); hasOwner && !pool.IsOwner(owner) {
			return params.Invalid("owner_uuid", "owner cannot provision on network pool", owner)
		}
		nets, err := network.PoolIntersection(ctx, pctx, "network_uuid", validated, pool)
		if err != nil {
			return err
		}
		validated["pool_networks"] = nets
		return nil
	}

	if net, ok := validated["network"].(*network.Network); ok {
		return reconcileNetwork(validated, net)
	}

	if addr, ok := validated["ip"].(netip.Addr); ok {
		tag, hasTag := validated.GetString("nic_tag")
		vlan, hasVlan := validated["vlan_id"].(int64)
		if !hasTag || !hasVlan {
			var errs []*params.FieldError
			if !hasTag {
				errs = append(errs, params.Missing("nic_tag"))
			}
			if !hasVlan {
				errs = append(errs, params.Missing("vlan_id"))
			}
			return &params.ValidationError{Errors: errs}
		}

		matches, err := network.FindContaining(ctx, pctx, tag, int(vlan), addr)
		if err != nil {
			return err
		}
		switch {
		case len(matches) == 0:
			return params.Invalid("ip", "no network found matching parameters", addr.String())
		case len(matches) > 1:
			uuids := make([]string, 0, len(matches))
			for _, m := range matches {
				uuids = append(uuids, m.UUID)
			}
			return &params.FieldError{
				Field:   "ip",
				Code:    CodeAmbiguousNetwork,
				Message: "IP matches more than one network",
				Invalid: uuids,
			}
		}
		validated["network"] = matches[0]
		validated["network_uuid"] = matches[0].UUID
		return reconcileNetwork(validated, matches[0])
	}

	return nil
}

// reconcileNetwork cross-checks a resolved network against explicitly
// supplied tag/VLAN values, fills absent ones, validates address
// containment, and applies the owner rule.
func reconcileNetwork(validated params.Bag, net *network.Network) error {
	if tag, ok := validated.GetString("nic_tag"); ok {
		if tag != net.NicTag {
			return params.Invalid("nic_tag",
				fmt.Sprintf("does not match network nic_tag %q", net.NicTag), tag)
		}
	} else {
		validated["nic_tag"] = net.NicTag
	}

	if vlan, ok := validated["vlan_id"].(int64); ok {
		if int(vlan) != net.VLANID {
			return params.Invalid("vlan_id",
				fmt.Sprintf("does not match network vlan_id %d", net.VLANID),
				strconv.FormatInt(vlan, 10))
		}
	} else {
		validated["vlan_id"] = int64(net.VLANID)
	}

	if addr, ok := validated["ip"].(netip.Addr); ok {
		if err := ip.ValidateInSubnet(net.IPRef(), net.Subnet, "ip", addr); err != nil {
			return err
		}
	}

	if owner, ok := validated.GetString("owner_uuid"); ok && !net.IsOwner(owner) {
		return params.Invalid("owner_uuid", "owner cannot provision on network", owner)
	}

	if net.Fabric {
		validated["vnet_id"] = net.VnetID
	}
	return nil
}

// checkFabricNic requires cn_uuid on any NIC that can land on a fabric
// network: overlay routing needs to know the hosting compute node. For a
// pool the allocation walk may pick any member, so a single fabric member
// triggers the requirement.
func checkFabricNic(ctx context.Context, pctx *params.Context, original, validated params.Bag) error {
	fabric := false
	if net, ok := validated["network"].(*network.Network); ok {
		fabric = net.Fabric
	}
	if nets, ok := validated["pool_networks"].([]*network.Network); ok {
		for _, net := range nets {
			if net.Fabric {
				fabric = true
				break
			}
		}
	}
	if fabric && !validated.Has("cn_uuid") {
		return params.Missing("cn_uuid")
	}
	return nil
}

// underlayCheck returns the after-check enforcing that underlay NICs belong
// to servers. On updates, existing carries the NIC's current belongs-to
// type for requests that do not change it.
func underlayCheck(existing string) params.AfterFn {
	return func(ctx context.Context, pctx *params.Context, original, validated params.Bag) error {
		if !validated.GetBool("underlay") {
			return nil
		}
		bt, ok := validated.GetString("belongs_to_type")
		if !ok {
			bt = existing
		}
		if bt != ip.BelongsToServer {
			return params.Invalid("underlay",
				"underlay is only supported for NICs belonging to servers")
		}
		return nil
	}
}
