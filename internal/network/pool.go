package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// MaxNetworksPerPool bounds pool membership.
const MaxNetworksPerPool = 64

// BucketPools is the network pools bucket schema.
var BucketPools = storage.Bucket{
	Name:    "napi_network_pools",
	Version: 1,
	Indexes: map[string]storage.IndexType{
		"uuid":       storage.IndexString,
		"name":       storage.IndexString,
		"networks":   storage.IndexStringArray,
		"nic_tag":    storage.IndexString,
		"owner_uuid": storage.IndexString,
	},
}

// Pool is a named set of same-tag networks treated as one allocation
// domain.
type Pool struct {
	UUID      string
	Name      string
	Networks  []string
	NicTag    string
	OwnerUUID string
	Etag      string
}

// IsOwner reports whether owner may provision on this pool.
func (p *Pool) IsOwner(owner string) bool {
	if p.OwnerUUID == "" {
		return true
	}
	return owner == p.OwnerUUID || owner == AdminOwnerUUID
}

// Serialize renders the pool as its storage row.
func (p *Pool) Serialize() storage.Row {
	row := storage.Row{
		"uuid":     p.UUID,
		"name":     p.Name,
		"networks": append([]string(nil), p.Networks...),
		"nic_tag":  p.NicTag,
		"v":        BucketPools.Version,
	}
	if p.OwnerUUID != "" {
		row["owner_uuid"] = p.OwnerUUID
	}
	return row
}

// PoolFromObject rehydrates a Pool from its storage object.
func PoolFromObject(obj *storage.Object) (*Pool, error) {
	row := obj.Value
	p := &Pool{Etag: obj.Etag}
	var ok bool
	if p.UUID, ok = row.StringField("uuid"); !ok {
		return nil, fmt.Errorf("pool row %s: missing uuid", obj.Key)
	}
	p.Name, _ = row.StringField("name")
	p.Networks = row.StringsField("networks")
	p.NicTag, _ = row.StringField("nic_tag")
	p.OwnerUUID, _ = row.StringField("owner_uuid")
	return p, nil
}

// Mutation builds the batch mutation persisting this pool.
func (p *Pool) Mutation() storage.Mutation {
	opts := storage.PutIfNotExists()
	if p.Etag != "" {
		opts = storage.PutIfEtag(p.Etag)
	}
	return storage.Mutation{
		Bucket:   BucketPools.Name,
		Key:      p.UUID,
		Op:       storage.OpPut,
		Value:    p.Serialize(),
		Options:  opts,
		OnCommit: func(etag string) { p.Etag = etag },
	}
}

// ValidateNetworks resolves candidate network UUIDs into Networks,
// reporting unknown UUIDs as one aggregated error, enforcing the membership
// bound, and requiring a single shared nic_tag across the set.
func ValidateNetworks(ctx context.Context, pctx *params.Context, field string, uuids []string) ([]*Network, error) {
	if len(uuids) == 0 {
		return nil, params.Invalid(field, "must specify at least one network")
	}
	if len(uuids) > MaxNetworksPerPool {
		return nil, params.Invalid(field,
			fmt.Sprintf("maximum %d networks per network pool", MaxNetworksPerPool))
	}

	var unknown []string
	nets := make([]*Network, 0, len(uuids))
	for _, u := range uuids {
		n, err := Get(ctx, pctx, u)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				unknown = append(unknown, u)
				continue
			}
			return nil, err
		}
		nets = append(nets, n)
	}
	if len(unknown) > 0 {
		return nil, params.Invalid(field, "unknown network", unknown...)
	}

	tag := nets[0].NicTag
	var mismatched []string
	for _, n := range nets {
		if n.NicTag != tag {
			mismatched = append(mismatched, n.UUID)
		}
	}
	if len(mismatched) > 0 {
		return nil, params.Invalid(field, "nic_tags do not match",
			append([]string{nets[0].UUID}, mismatched...)...)
	}
	return nets, nil
}

// ValidateNetworkOwners enforces the pool owner invariant: when the pool has
// an owner, every member network must be unowned or owned by that owner.
func ValidateNetworkOwners(field, poolOwner string, nets []*Network) error {
	if poolOwner == "" {
		return nil
	}
	var bad []string
	for _, n := range nets {
		if !n.IsOwner(poolOwner) {
			bad = append(bad, n.UUID)
		}
	}
	if len(bad) > 0 {
		return params.Invalid(field, "network owner_uuids do not match pool owner_uuid", bad...)
	}
	return nil
}

var poolCreateOpts = params.Opts{
	Required: map[string]params.ValidateFn{
		"name":     params.String,
		"networks": params.UUIDArray,
	},
	Optional: map[string]params.ValidateFn{
		"uuid":       params.UUID,
		"owner_uuid": params.UUID,
	},
}

// CreatePool validates and persists a new pool. The entire member set is
// resolved and revalidated, never incrementally.
func CreatePool(ctx context.Context, pctx *params.Context, raw params.Bag) (*Pool, error) {
	validated, err := params.Validate(ctx, pctx, raw, poolCreateOpts)
	if err != nil {
		return nil, err
	}

	p := &Pool{}
	p.Name, _ = validated.GetString("name")
	if u, ok := validated.GetString("uuid"); ok {
		p.UUID = u
	} else {
		p.UUID = uuid.NewString()
	}
	p.OwnerUUID, _ = validated.GetString("owner_uuid")
	p.Networks = validated["networks"].([]string)

	nets, err := validateMembers(ctx, pctx, "networks", p)
	if err != nil {
		return nil, err
	}
	p.NicTag = nets[0].NicTag

	if err := pctx.Store.CreateBucket(ctx, BucketPools); err != nil {
		return nil, err
	}
	if err := storage.Commit(ctx, pctx.Store, []storage.Mutation{p.Mutation()}); err != nil {
		return nil, err
	}
	pctx.Log.InfoContext(ctx, "created network pool",
		"pool_uuid", p.UUID, "nic_tag", p.NicTag, "networks", len(p.Networks))
	return p, nil
}

func validateMembers(ctx context.Context, pctx *params.Context, field string, p *Pool) ([]*Network, error) {
	nets, err := ValidateNetworks(ctx, pctx, field, p.Networks)
	if err != nil {
		if fe, ok := err.(*params.FieldError); ok {
			return nil, &params.ValidationError{Errors: []*params.FieldError{fe}}
		}
		return nil, err
	}
	if err := ValidateNetworkOwners(field, p.OwnerUUID, nets); err != nil {
		return nil, &params.ValidationError{Errors: []*params.FieldError{err.(*params.FieldError)}}
	}
	return nets, nil
}

// GetPool fetches one pool by UUID.
func GetPool(ctx context.Context, pctx *params.Context, uuid string) (*Pool, error) {
	obj, err := pctx.Store.GetObject(ctx, BucketPools.Name, uuid)
	if err != nil {
		return nil, err
	}
	return PoolFromObject(obj)
}

// ListPools returns pools, optionally restricted to one nic_tag.
func ListPools(ctx context.Context, pctx *params.Context, nicTag string) ([]*Pool, error) {
	f := storage.NewFilter()
	if nicTag != "" {
		f.Eq("nic_tag", nicTag)
	}
	objs, err := pctx.Store.FindObjects(ctx, BucketPools.Name, f, storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*Pool, 0, len(objs))
	for i := range objs {
		p, err := PoolFromObject(&objs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

var poolUpdateOpts = params.Opts{
	Optional: map[string]params.ValidateFn{
		"name":       params.String,
		"networks":   params.UUIDArray,
		"owner_uuid": params.UUID,
	},
}

// UpdatePool applies changes to a pool, revalidating the full member set
// whenever networks or the owner change.
func UpdatePool(ctx context.Context, pctx *params.Context, uuid string, raw params.Bag) (*Pool, error) {
	validated, err := params.Validate(ctx, pctx, raw, poolUpdateOpts)
	if err != nil {
		return nil, err
	}

	p, err := GetPool(ctx, pctx, uuid)
	if err != nil {
		return nil, err
	}
	if v, ok := validated.GetString("name"); ok {
		p.Name = v
	}
	if v, ok := validated.GetString("owner_uuid"); ok {
		p.OwnerUUID = v
	}
	if nets, ok := validated["networks"].([]string); ok {
		p.Networks = nets
	}

	nets, err := validateMembers(ctx, pctx, "networks", p)
	if err != nil {
		return nil, err
	}
	p.NicTag = nets[0].NicTag

	if err := storage.Commit(ctx, pctx.Store, []storage.Mutation{p.Mutation()}); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePool removes a pool.
func DeletePool(ctx context.Context, pctx *params.Context, uuid string) error {
	return pctx.Store.DeleteObject(ctx, BucketPools.Name, uuid)
}
