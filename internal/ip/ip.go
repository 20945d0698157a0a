// Package ip implements the per-network IP allocation model: the
// free/reserved/assigned state machine, the two address encodings, and the
// bounded-retry free-address scan.
//
// An IP with no store row is implicitly free; rows are only materialized
// when an address is assigned or reserved, and are cleared (never removed)
// on release so their version tokens stay valid for the next optimistic
// write.
package ip

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// AdminOwnerUUID mirrors network.AdminOwnerUUID; IP rows held by it under
// belongs_to_type "other" are reusable placeholders.
const AdminOwnerUUID = "930896af-bf8c-48d4-885c-6573a94b1853"

// BelongsTo types for IPs and NICs.
const (
	BelongsToOther  = "other"
	BelongsToServer = "server"
	BelongsToZone   = "zone"
)

// Ref is the slice of network state the IP model needs: which bucket its
// rows live in, the address encoding, and the provisionable range.
type Ref struct {
	NetworkUUID string
	Bucket      storage.Bucket
	UseStrings  bool
	Start       netip.Addr
	End         netip.Addr
}

// IP is one address's allocation state on one network.
type IP struct {
	Ref  Ref
	Addr netip.Addr

	Reserved      bool
	BelongsToType string
	BelongsToUUID string
	OwnerUUID     string

	// Etag is the row's version token; empty means the row has never been
	// persisted (synthetic free record).
	Etag string
}

// New returns a synthetic free IP for an address with no store row.
func New(ref Ref, addr netip.Addr) *IP {
	return &IP{Ref: ref, Addr: addr}
}

// Free reports whether the address is unheld: no belongs-to, no owner, not
// reserved.
func (i *IP) Free() bool {
	return i.BelongsToType == "" && i.BelongsToUUID == "" && i.OwnerUUID == "" && !i.Reserved
}

// Provisionable reports whether the allocation scan may hand this address
// out: either nothing holds it, or it is an administrative placeholder
// (belongs_to_type "other" under the admin owner), which is reusable.
func (i *IP) Provisionable() bool {
	if i.BelongsToType == "" && i.BelongsToUUID == "" {
		return true
	}
	return i.BelongsToType == BelongsToOther && i.BelongsToUUID == AdminOwnerUUID
}

// Key returns the row key for this address: the decimal integer form in the
// numeric generation, the canonical string form in the string generation.
func (i *IP) Key() string {
	if i.Ref.UseStrings {
		return i.Addr.String()
	}
	return strconv.FormatUint(uint64(cidr.AddrToUint32(i.Addr)), 10)
}

// Serialize renders the IP as its storage row in the network's encoding.
func (i *IP) Serialize() storage.Row {
	row := storage.Row{
		"reserved": i.Reserved,
		"v":        i.Ref.Bucket.Version,
	}
	if i.Ref.UseStrings {
		row["ipaddr"] = i.Addr.String()
	} else {
		row["ip"] = cidr.AddrToUint32(i.Addr)
	}
	if i.BelongsToType != "" {
		row["belongs_to_type"] = i.BelongsToType
	}
	if i.BelongsToUUID != "" {
		row["belongs_to_uuid"] = i.BelongsToUUID
	}
	if i.OwnerUUID != "" {
		row["owner_uuid"] = i.OwnerUUID
	}
	return row
}

// FromObject rehydrates an IP from its storage object.
func FromObject(ref Ref, obj *storage.Object) (*IP, error) {
	row := obj.Value
	i := &IP{Ref: ref, Etag: obj.Etag}

	if err := checkEncoding(ref, row); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", obj.Bucket, obj.Key, err)
	}
	if ref.UseStrings {
		s, _ := row.StringField("ipaddr")
		a, err := cidr.ParseIPv4(s)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", obj.Bucket, obj.Key, err)
		}
		i.Addr = a
	} else {
		n, ok := row.Uint32Field("ip")
		if !ok {
			return nil, fmt.Errorf("%s/%s: missing ip field", obj.Bucket, obj.Key)
		}
		i.Addr = cidr.Uint32ToAddr(n)
	}

	i.Reserved = row.BoolField("reserved")
	i.BelongsToType, _ = row.StringField("belongs_to_type")
	i.BelongsToUUID, _ = row.StringField("belongs_to_uuid")
	i.OwnerUUID, _ = row.StringField("owner_uuid")
	return i, nil
}

// checkEncoding guards against mixing address encodings within one bucket:
// a row carrying the other generation's address field is rejected.
func checkEncoding(ref Ref, row storage.Row) error {
	_, hasNum := row.Uint32Field("ip")
	_, hasStr := row.StringField("ipaddr")
	if ref.UseStrings && hasNum && !hasStr {
		return fmt.Errorf("row uses numeric address encoding in a string-encoded bucket: %w", storage.ErrEtagConflict)
	}
	if !ref.UseStrings && hasStr && !hasNum {
		return fmt.Errorf("row uses string address encoding in a numeric-encoded bucket: %w", storage.ErrEtagConflict)
	}
	return nil
}

// Mutation builds the conditional put persisting this IP: an optimistic
// create for a synthetic record, a compare-and-swap otherwise.
func (i *IP) Mutation() storage.Mutation {
	opts := storage.PutIfNotExists()
	if i.Etag != "" {
		opts = storage.PutIfEtag(i.Etag)
	}
	return storage.Mutation{
		Bucket:   i.Ref.Bucket.Name,
		Key:      i.Key(),
		Op:       storage.OpPut,
		Value:    i.Serialize(),
		Options:  opts,
		OnCommit: func(etag string) { i.Etag = etag },
	}
}

// Placeholder returns a reserved administrative placeholder record for addr
// (used for gateways and resolvers at network creation).
func Placeholder(ref Ref, addr netip.Addr) *IP {
	return &IP{
		Ref:           ref,
		Addr:          addr,
		Reserved:      true,
		BelongsToType: BelongsToOther,
		BelongsToUUID: AdminOwnerUUID,
		OwnerUUID:     AdminOwnerUUID,
	}
}
