package ip

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// Get returns the allocation state of one address. An address with no store
// row is returned as a synthetic free record with an empty etag.
func Get(ctx context.Context, pctx *params.Context, ref Ref, addr netip.Addr) (*IP, error) {
	i := New(ref, addr)
	obj, err := pctx.Store.GetObject(ctx, ref.Bucket.Name, i.Key())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return i, nil
		}
		return nil, err
	}
	return FromObject(ref, obj)
}

// List returns every materialized IP row on the network in address order.
func List(ctx context.Context, pctx *params.Context, ref Ref) ([]*IP, error) {
	objs, err := pctx.Store.FindObjects(ctx, ref.Bucket.Name, storage.NewFilter(), storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*IP, 0, len(objs))
	for i := range objs {
		rec, err := FromObject(ref, &objs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool {
		return cidr.AddrToUint32(out[a].Addr) < cidr.AddrToUint32(out[b].Addr)
	})
	return out, nil
}

// updateOpts is the validation contract for IP updates.
var updateOpts = params.Opts{
	Optional: map[string]params.ValidateFn{
		"belongs_to_type": params.Enum(BelongsToOther, BelongsToServer, BelongsToZone),
		"belongs_to_uuid": params.UUID,
		"owner_uuid":      params.UUID,
		"reserved":        params.Bool,
		"unassign":        params.Bool,
		"free":            params.Bool,
	},
	After: []params.AfterFn{checkUpdateFlags},
}

// checkUpdateFlags enforces the cross-field rules: free and unassign are
// mutually exclusive; belongs_to_type and belongs_to_uuid come together; a
// belongs-to requires an owner.
func checkUpdateFlags(ctx context.Context, pctx *params.Context, original, validated params.Bag) error {
	if validated.GetBool("free") && validated.GetBool("unassign") {
		return params.Invalid("unassign", "cannot specify both free and unassign")
	}
	hasType := validated.Has("belongs_to_type")
	hasUUID := validated.Has("belongs_to_uuid")
	if hasType != hasUUID {
		missing := "belongs_to_uuid"
		if hasUUID {
			missing = "belongs_to_type"
		}
		return params.Missing(missing)
	}
	if hasType && !validated.Has("owner_uuid") {
		return params.Missing("owner_uuid")
	}
	return nil
}

// Update applies one state transition to an address and commits it with a
// compare-and-swap on the record's version token. The returned IP carries
// the new token.
func Update(ctx context.Context, pctx *params.Context, ref Ref, addr netip.Addr, raw params.Bag) (*IP, error) {
	validated, err := params.Validate(ctx, pctx, raw, updateOpts)
	if err != nil {
		return nil, err
	}

	rec, err := Get(ctx, pctx, ref, addr)
	if err != nil {
		return nil, err
	}

	switch {
	case validated.GetBool("free"):
		rec.clear()
	case validated.GetBool("unassign"):
		rec.unassign()
	default:
		if v, ok := validated.GetString("belongs_to_type"); ok {
			rec.BelongsToType = v
		}
		if v, ok := validated.GetString("belongs_to_uuid"); ok {
			rec.BelongsToUUID = v
		}
		if v, ok := validated.GetString("owner_uuid"); ok {
			rec.OwnerUUID = v
		}
		if v, ok := validated["reserved"].(bool); ok {
			rec.Reserved = v
		}
	}

	if err := storage.Commit(ctx, pctx.Store, []storage.Mutation{rec.Mutation()}); err != nil {
		return nil, err
	}
	return rec, nil
}

// clear resets the record to the free state. The row survives so its
// version token remains usable.
func (i *IP) clear() {
	i.Reserved = false
	i.BelongsToType = ""
	i.BelongsToUUID = ""
	i.OwnerUUID = ""
}

// Release puts the record back to the unheld state, preserving a
// reservation and its owner. Used when the holding NIC goes away.
func (i *IP) Release() {
	i.unassign()
}

// unassign releases the holder. A reservation survives release: the owner
// stays on a reserved record.
func (i *IP) unassign() {
	i.BelongsToType = ""
	i.BelongsToUUID = ""
	if !i.Reserved {
		i.OwnerUUID = ""
	}
}

// Delete clears an address back to the free state, keeping the row. The
// address must currently have a row.
func Delete(ctx context.Context, pctx *params.Context, ref Ref, addr netip.Addr) (*IP, error) {
	i := New(ref, addr)
	obj, err := pctx.Store.GetObject(ctx, ref.Bucket.Name, i.Key())
	if err != nil {
		return nil, err
	}
	rec, err := FromObject(ref, obj)
	if err != nil {
		return nil, err
	}
	rec.clear()
	if err := storage.Commit(ctx, pctx.Store, []storage.Mutation{rec.Mutation()}); err != nil {
		return nil, err
	}
	return rec, nil
}

// errNotInRange flags an explicitly requested address outside the subnet.
func errNotInRange(field string, addr netip.Addr) error {
	return params.Invalid(field, "ip cannot be outside subnet", addr.String())
}

// ValidateInSubnet checks an explicitly requested address against a
// network's subnet bounds.
func ValidateInSubnet(ref Ref, subnet netip.Prefix, field string, addr netip.Addr) error {
	if !cidr.PrefixContainsAddr(subnet, addr) {
		return errNotInRange(field, addr)
	}
	return nil
}

// String renders an IP for logs.
func (i *IP) String() string {
	return fmt.Sprintf("%s on %s", i.Addr, i.Ref.NetworkUUID)
}
