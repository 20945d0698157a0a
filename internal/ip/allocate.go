package ip

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// MaxAllocRetries bounds how many claim conflicts one allocation tolerates
// before giving up. A retry count, not a deadline, keeps behavior
// deterministic under test.
const MaxAllocRetries = 10

// ErrSubnetFull is returned when no free address exists in the
// provisionable range (or the conflict retry bound was exhausted).
var ErrSubnetFull = errors.New("no free IP addresses found in network")

// Claim describes who an allocated address is handed to.
type Claim struct {
	BelongsToType string
	BelongsToUUID string
	OwnerUUID     string
}

// AllocateNext scans the provisionable range in address order and claims the
// first provisionable address with a conditional write. A conflicting
// concurrent allocation moves the scan to the next candidate instead of
// restarting, bounded by MaxAllocRetries. When extra is non-nil it is
// called with the claimed candidate and its mutations (e.g. the NIC row
// being provisioned with this address) join the same batch as the claim.
//
// The claim re-validates provisionability at commit time by construction:
// the write is conditional on the exact row version the scan observed (or on
// row absence), so a record that changed since the scan fails the
// compare-and-swap rather than being double-assigned.
func AllocateNext(ctx context.Context, pctx *params.Context, ref Ref, claim Claim, extra func(*IP) []storage.Mutation) (*IP, error) {
	existing, err := List(ctx, pctx, ref)
	if err != nil {
		return nil, err
	}
	byAddr := make(map[uint32]*IP, len(existing))
	for _, rec := range existing {
		byAddr[cidr.AddrToUint32(rec.Addr)] = rec
	}

	start := cidr.AddrToUint32(ref.Start)
	end := cidr.AddrToUint32(ref.End)
	retries := 0

	for a := start; a <= end; a++ {
		rec, ok := byAddr[a]
		if !ok {
			rec = New(ref, cidr.Uint32ToAddr(a))
		}
		if !rec.Provisionable() {
			continue
		}

		rec.BelongsToType = claim.BelongsToType
		rec.BelongsToUUID = claim.BelongsToUUID
		rec.OwnerUUID = claim.OwnerUUID

		muts := []storage.Mutation{rec.Mutation()}
		if extra != nil {
			muts = append(muts, extra(rec)...)
		}
		err := storage.Commit(ctx, pctx.Store, muts)
		if err == nil {
			pctx.Log.DebugContext(ctx, "allocated IP",
				"network_uuid", ref.NetworkUUID, "ip", rec.Addr.String())
			return rec, nil
		}
		if !errors.Is(err, storage.ErrEtagConflict) {
			return nil, err
		}

		// Someone else claimed this candidate first. Move on.
		retries++
		if retries > MaxAllocRetries {
			pctx.Log.WarnContext(ctx, "allocation retry bound exhausted",
				"network_uuid", ref.NetworkUUID, "retries", retries)
			return nil, ErrSubnetFull
		}
	}
	return nil, ErrSubnetFull
}

// AllocateAddr claims one specific address for the given holder, committing
// any extra mutations in the same batch.
func AllocateAddr(ctx context.Context, pctx *params.Context, ref Ref, addr netip.Addr, claim Claim, extra ...storage.Mutation) (*IP, error) {
	rec, err := Get(ctx, pctx, ref, addr)
	if err != nil {
		return nil, err
	}
	if !rec.Provisionable() {
		return nil, params.Invalid("ip",
			fmt.Sprintf("IP in use by %s %s", rec.BelongsToType, rec.BelongsToUUID),
			addr.String())
	}
	rec.BelongsToType = claim.BelongsToType
	rec.BelongsToUUID = claim.BelongsToUUID
	rec.OwnerUUID = claim.OwnerUUID

	if err := storage.Commit(ctx, pctx.Store, append([]storage.Mutation{rec.Mutation()}, extra...)); err != nil {
		return nil, err
	}
	return rec, nil
}
