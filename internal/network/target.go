package network

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// AdminNetworkName is the literal accepted as a network alias without UUID
// validation.
const AdminNetworkName = "admin"

// Target is a tagged union: either a Network or a NetworkPool. It exposes
// the fields both variants share so provisioning code does not care which
// it resolved.
type Target struct {
	net  *Network
	pool *Pool
}

// TargetNetwork wraps a Network.
func TargetNetwork(n *Network) *Target { return &Target{net: n} }

// TargetPool wraps a Pool.
func TargetPool(p *Pool) *Target { return &Target{pool: p} }

// IsPool reports whether the target is a pool.
func (t *Target) IsPool() bool { return t.pool != nil }

// Network returns the network variant, nil for pools.
func (t *Target) Network() *Network { return t.net }

// Pool returns the pool variant, nil for networks.
func (t *Target) Pool() *Pool { return t.pool }

// UUID returns the resolved entity's UUID.
func (t *Target) UUID() string {
	if t.pool != nil {
		return t.pool.UUID
	}
	return t.net.UUID
}

// NicTag returns the tag shared by the network or every pool member.
func (t *Target) NicTag() string {
	if t.pool != nil {
		return t.pool.NicTag
	}
	return t.net.NicTag
}

// IsOwner applies the variant's ownership rule.
func (t *Target) IsOwner(owner string) bool {
	if t.pool != nil {
		return t.pool.IsOwner(owner)
	}
	return t.net.IsOwner(owner)
}

// Resolve turns a network parameter value into a Target. The literal
// "admin" resolves by network name; a UUID resolves as a network first,
// falling back to pool lookup on not-found. A miss on both is reported
// against the given field.
func Resolve(ctx context.Context, pctx *params.Context, field, value string) (*Target, error) {
	if value == AdminNetworkName {
		n, err := GetByName(ctx, pctx, AdminNetworkName)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, params.Invalid(field, "admin network not found")
			}
			return nil, err
		}
		return TargetNetwork(n), nil
	}

	if _, err := uuid.Parse(value); err != nil {
		return nil, params.Invalid(field, "invalid UUID", value)
	}

	n, err := Get(ctx, pctx, value)
	if err == nil {
		return TargetNetwork(n), nil
	}
	if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrBucketNotFound) {
		return nil, err
	}

	p, perr := GetPool(ctx, pctx, value)
	if perr == nil {
		return TargetPool(p), nil
	}
	if !errors.Is(perr, storage.ErrNotFound) && !errors.Is(perr, storage.ErrBucketNotFound) {
		return nil, perr
	}
	// Referenced-entity not-found reads as a bad request field, not a
	// raw 404.
	return nil, params.Invalid(field, "network or network pool not found", value)
}

// PoolIntersection narrows a pool's member networks against explicitly
// supplied selection criteria (nic_tag, vlan_id). Addresses cannot be chosen
// directly inside a pool, so an explicit ip parameter combined with a pool
// is rejected outright.
func PoolIntersection(ctx context.Context, pctx *params.Context, field string, bag params.Bag, pool *Pool) ([]*Network, error) {
	if bag.Has("ip") {
		return nil, params.Invalid("ip", "cannot specify IP with a network pool")
	}

	nets := make([]*Network, 0, len(pool.Networks))
	for _, u := range pool.Networks {
		n, err := Get(ctx, pctx, u)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// A member deleted out from under the pool: skip it
				// rather than failing every provision on the pool.
				pctx.Log.WarnContext(ctx, "pool member network missing",
					"pool_uuid", pool.UUID, "network_uuid", u)
				continue
			}
			return nil, err
		}
		if tag, ok := bag.GetString("nic_tag"); ok && n.NicTag != tag {
			continue
		}
		if vlan, ok := bag["vlan_id"].(int64); ok && n.VLANID != int(vlan) {
			continue
		}
		nets = append(nets, n)
	}
	if len(nets) == 0 {
		return nil, params.Invalid(field, "no networks in pool match the given parameters", pool.UUID)
	}
	return nets, nil
}
