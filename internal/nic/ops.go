package nic

import (
	"context"
	"errors"
	"net/netip"

	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/network"
	"github.com/joshwilsdon-forks/sdc-napi/internal/overlay"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// Init creates the buckets the NIC model depends on.
func Init(ctx context.Context, st storage.Store) error {
	for _, b := range []storage.Bucket{BucketNics, network.BucketNetworks, network.BucketPools, overlay.BucketEvents} {
		if err := st.CreateBucket(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

var provisionOpts = params.Opts{
	Required: map[string]params.ValidateFn{
		"belongs_to_type": params.Enum(ip.BelongsToOther, ip.BelongsToServer, ip.BelongsToZone),
		"belongs_to_uuid": params.UUID,
		"owner_uuid":      params.UUID,
	},
	Optional: map[string]params.ValidateFn{
		"mac":          validateMAC,
		"network_uuid": validateNetworkParam,
		"ip":           params.IP,
		"nic_tag":      validateNicTag,
		"vlan_id":      params.IntRange(0, 4094),
		"state":        params.Enum(StateProvisioning, StateStopped, StateRunning),
		"primary":      params.Bool,
		"underlay":     params.Bool,
		"cn_uuid":      params.UUID,
	},
	After: []params.AfterFn{
		checkNetworkParams,
		checkFabricNic,
		underlayCheck(""),
	},
}

// Provision creates a NIC, allocating an address when a network or pool was
// given. The NIC row and the claimed IP row (plus the overlay event for
// fabric NICs) commit as one atomic batch.
func Provision(ctx context.Context, pctx *params.Context, raw params.Bag) (*NIC, error) {
	validated, err := params.Validate(ctx, pctx, raw, provisionOpts)
	if err != nil {
		return nil, err
	}

	n := &NIC{State: StateProvisioning}
	n.BelongsToType, _ = validated.GetString("belongs_to_type")
	n.BelongsToUUID, _ = validated.GetString("belongs_to_uuid")
	n.OwnerUUID, _ = validated.GetString("owner_uuid")
	if mac, ok := validated["mac"].(uint64); ok {
		n.MAC = mac
	} else {
		if n.MAC, err = RandomMAC(); err != nil {
			return nil, err
		}
	}
	if tag, ok := validated.GetString("nic_tag"); ok {
		n.NicTag = tag
	}
	if vlan, ok := validated["vlan_id"].(int64); ok {
		n.VLANID = int(vlan)
	}
	if state, ok := validated.GetString("state"); ok {
		n.State = state
	}
	n.Primary = validated.GetBool("primary")
	n.Underlay = validated.GetBool("underlay")
	n.CnUUID, _ = validated.GetString("cn_uuid")
	// A derived vnet_id means an overlay placement: either the resolved
	// network is fabric (any vnet, including 0) or the tag carried an
	// overlay suffix.
	if vnet, ok := validated["vnet_id"].(uint32); ok {
		n.VnetID = vnet
		n.Fabric = true
	}

	if err := Init(ctx, pctx.Store); err != nil {
		return nil, err
	}

	// A NIC row for this MAC would make every allocation attempt below
	// fail its conditional create, which reads as address exhaustion.
	// Reject the duplicate up front instead.
	if _, err := pctx.Store.GetObject(ctx, BucketNics.Name, n.Key()); err == nil {
		return nil, params.Invalid("mac", "MAC address already exists", MACToString(n.MAC))
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	// The NIC row (and, for fabric NICs, the overlay notification) rides
	// in the same batch as the address claim.
	withNic := func(rec *ip.IP) []storage.Mutation {
		if rec != nil {
			n.IP = rec.Addr
		}
		muts := []storage.Mutation{n.Mutation()}
		if n.OnFabric() {
			muts = append(muts, overlay.NicChange{
				Kind:        overlay.KindNicUpdate,
				MAC:         n.MAC,
				CnUUID:      n.CnUUID,
				VnetID:      n.VnetID,
				IP:          n.IP.String(),
				NetworkUUID: n.NetworkUUID,
			}.Mutation())
		}
		return muts
	}

	switch {
	case validated.Has("pool_networks"):
		nets := validated["pool_networks"].([]*network.Network)
		for _, net := range nets {
			n.NetworkUUID = net.UUID
			n.NicTag = net.NicTag
			n.VLANID = net.VLANID
			n.Fabric = net.Fabric
			n.VnetID = net.VnetID
			_, err := ip.AllocateNext(ctx, pctx, net.IPRef(), n.Claim(), withNic)
			if err == nil {
				return n, nil
			}
			if !errors.Is(err, ip.ErrSubnetFull) {
				return nil, err
			}
		}
		return nil, ip.ErrSubnetFull

	case validated.Has("network"):
		net := validated["network"].(*network.Network)
		n.NetworkUUID = net.UUID
		if addr, ok := validated["ip"].(netip.Addr); ok {
			n.IP = addr
			if _, err := ip.AllocateAddr(ctx, pctx, net.IPRef(), addr, n.Claim(), withNic(nil)...); err != nil {
				return nil, err
			}
			return n, nil
		}
		if _, err := ip.AllocateNext(ctx, pctx, net.IPRef(), n.Claim(), withNic); err != nil {
			return nil, err
		}
		return n, nil

	default:
		// Off-network NIC: no address to claim.
		if err := storage.Commit(ctx, pctx.Store, withNic(nil)); err != nil {
			return nil, err
		}
		return n, nil
	}
}

// Get fetches one NIC by MAC address string.
func Get(ctx context.Context, pctx *params.Context, mac string) (*NIC, error) {
	m, err := MACFromString(mac)
	if err != nil {
		return nil, &params.ValidationError{Errors: []*params.FieldError{
			params.Invalid("mac", "invalid MAC address", mac),
		}}
	}
	obj, err := pctx.Store.GetObject(ctx, BucketNics.Name, (&NIC{MAC: m}).Key())
	if err != nil {
		return nil, err
	}
	return FromObject(obj)
}

// ListOpts filters NIC listing.
type ListOpts struct {
	BelongsToUUID string
	BelongsToType string
	OwnerUUID     string
	NicTag        string
	NetworkUUID   string
	State         string
	Limit         int
	Offset        int
}

// List returns NICs matching opts, in MAC order.
func List(ctx context.Context, pctx *params.Context, opts ListOpts) ([]*NIC, error) {
	f := storage.NewFilter()
	if opts.BelongsToUUID != "" {
		f.Eq("belongs_to_uuid", opts.BelongsToUUID)
	}
	if opts.BelongsToType != "" {
		f.Eq("belongs_to_type", opts.BelongsToType)
	}
	if opts.OwnerUUID != "" {
		f.Eq("owner_uuid", opts.OwnerUUID)
	}
	if opts.NicTag != "" {
		f.Eq("nic_tag", opts.NicTag)
	}
	if opts.NetworkUUID != "" {
		f.Eq("network_uuid", opts.NetworkUUID)
	}
	if opts.State != "" {
		f.Eq("state", opts.State)
	}
	objs, err := pctx.Store.FindObjects(ctx, BucketNics.Name, f, storage.FindOptions{
		Sort:   "mac",
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*NIC, 0, len(objs))
	for i := range objs {
		n, err := FromObject(&objs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func updateOpts(existing *NIC) params.Opts {
	return params.Opts{
		Optional: map[string]params.ValidateFn{
			"belongs_to_type": params.Enum(ip.BelongsToOther, ip.BelongsToServer, ip.BelongsToZone),
			"belongs_to_uuid": params.UUID,
			"owner_uuid":      params.UUID,
			"state":           params.Enum(StateProvisioning, StateStopped, StateRunning),
			"primary":         params.Bool,
			"underlay":        params.Bool,
			"cn_uuid":         params.UUID,
		},
		After: []params.AfterFn{underlayCheck(existing.BelongsToType)},
	}
}

// Update applies changes to a NIC. A change of holder also rewrites the
// NIC's IP row in the same batch so the derived IP-to-NIC linkage stays
// consistent.
func Update(ctx context.Context, pctx *params.Context, mac string, raw params.Bag) (*NIC, error) {
	n, err := Get(ctx, pctx, mac)
	if err != nil {
		return nil, err
	}
	validated, err := params.Validate(ctx, pctx, raw, updateOpts(n))
	if err != nil {
		return nil, err
	}

	holderChanged := false
	if v, ok := validated.GetString("belongs_to_type"); ok && v != n.BelongsToType {
		n.BelongsToType = v
		holderChanged = true
	}
	if v, ok := validated.GetString("belongs_to_uuid"); ok && v != n.BelongsToUUID {
		n.BelongsToUUID = v
		holderChanged = true
	}
	if v, ok := validated.GetString("owner_uuid"); ok && v != n.OwnerUUID {
		n.OwnerUUID = v
		holderChanged = true
	}
	if v, ok := validated.GetString("state"); ok {
		n.State = v
	}
	if validated.Has("primary") {
		n.Primary = validated.GetBool("primary")
	}
	if validated.Has("underlay") {
		n.Underlay = validated.GetBool("underlay")
	}
	if v, ok := validated.GetString("cn_uuid"); ok {
		n.CnUUID = v
	}

	muts := []storage.Mutation{n.Mutation()}
	if holderChanged && n.NetworkUUID != "" && n.IP.IsValid() {
		net, err := network.Get(ctx, pctx, n.NetworkUUID)
		if err != nil {
			return nil, err
		}
		rec, err := ip.Get(ctx, pctx, net.IPRef(), n.IP)
		if err != nil {
			return nil, err
		}
		rec.BelongsToType = n.BelongsToType
		rec.BelongsToUUID = n.BelongsToUUID
		rec.OwnerUUID = n.OwnerUUID
		muts = append(muts, rec.Mutation())
	}
	if n.OnFabric() {
		muts = append(muts, overlay.NicChange{
			Kind:        overlay.KindNicUpdate,
			MAC:         n.MAC,
			CnUUID:      n.CnUUID,
			VnetID:      n.VnetID,
			IP:          n.IP.String(),
			NetworkUUID: n.NetworkUUID,
		}.Mutation())
	}
	if err := storage.Commit(ctx, pctx.Store, muts); err != nil {
		return nil, err
	}
	return n, nil
}

// Delete removes a NIC, releasing its address in the same batch. The IP row
// is cleared, not removed; a reservation (and its owner) survives. Fabric
// NICs emit a delete notification in the batch as well.
func Delete(ctx context.Context, pctx *params.Context, mac string) error {
	n, err := Get(ctx, pctx, mac)
	if err != nil {
		return err
	}

	muts := []storage.Mutation{{
		Bucket: BucketNics.Name,
		Key:    n.Key(),
		Op:     storage.OpDelete,
	}}

	if n.NetworkUUID != "" && n.IP.IsValid() {
		net, err := network.Get(ctx, pctx, n.NetworkUUID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err == nil {
			rec, err := ip.Get(ctx, pctx, net.IPRef(), n.IP)
			if err != nil {
				return err
			}
			if rec.Etag != "" {
				rec.Release()
				muts = append(muts, rec.Mutation())
			}
		}
	}
	if n.OnFabric() {
		muts = append(muts, overlay.NicChange{
			Kind:        overlay.KindNicDelete,
			MAC:         n.MAC,
			CnUUID:      n.CnUUID,
			VnetID:      n.VnetID,
			IP:          n.IP.String(),
			NetworkUUID: n.NetworkUUID,
		}.Mutation())
	}
	if err := storage.Commit(ctx, pctx.Store, muts); err != nil {
		return err
	}
	pctx.Log.InfoContext(ctx, "deleted NIC", "mac", MACToString(n.MAC))
	return nil
}
