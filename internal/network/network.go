// Package network implements the Network and NetworkPool models: subnet and
// provision-range arithmetic, ownership rules, pool membership invariants,
// and their persistence to the bucketed store.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// AdminOwnerUUID is the administrative owner placeholder. It passes every
// owner check, and IP rows held by it with belongs_to_type "other" are
// reusable placeholders (gateway and resolver reservations).
const AdminOwnerUUID = "930896af-bf8c-48d4-885c-6573a94b1853"

const (
	// MinMTU and MaxMTU bound network MTUs; DefaultMTU applies when
	// unset.
	MinMTU     = 576
	MaxMTU     = 9000
	DefaultMTU = 1500

	// MaxVnetID is the largest overlay identifier (24 bits).
	MaxVnetID = 1<<24 - 1
)

// ErrNetworkInUse is returned when deleting a network that still has
// provisioned IPs or attached NICs.
var ErrNetworkInUse = errors.New("network must have no provisioned IPs or NICs")

// BucketNetworks is the networks bucket schema.
var BucketNetworks = storage.Bucket{
	Name:    "napi_networks",
	Version: 1,
	Indexes: map[string]storage.IndexType{
		"uuid":        storage.IndexString,
		"name":        storage.IndexString,
		"vlan_id":     storage.IndexNumber,
		"nic_tag":     storage.IndexString,
		"owner_uuids": storage.IndexStringArray,
		"fabric":      storage.IndexBool,
		"vnet_id":     storage.IndexNumber,
	},
}

// Network is one L2/L3 network.
type Network struct {
	UUID           string
	Name           string
	Subnet         netip.Prefix
	VLANID         int
	NicTag         string
	OwnerUUIDs     []string
	ProvisionStart netip.Addr
	ProvisionEnd   netip.Addr
	Gateway        netip.Addr // zero value when unset
	Resolvers      []netip.Addr
	MTU            int
	Fabric         bool
	VnetID         uint32
	CnUUID         string // unused unless fabric; kept for overlay events

	// IPUseStrings selects the address encoding for this network's IP
	// bucket: false is the numeric generation, true the string one. Fixed
	// at creation.
	IPUseStrings bool

	// Etag is the row's version token; empty means not yet persisted.
	Etag string
}

// IPBucket returns the per-network IP bucket schema. The bucket name is
// derived from the network UUID; its version records the address encoding
// generation.
func (n *Network) IPBucket() storage.Bucket {
	version := 1
	addrIndex := map[string]storage.IndexType{
		"ip": storage.IndexNumber,
	}
	if n.IPUseStrings {
		version = 2
		addrIndex = map[string]storage.IndexType{
			"ipaddr": storage.IndexString,
		}
	}
	idx := map[string]storage.IndexType{
		"reserved":        storage.IndexBool,
		"belongs_to_type": storage.IndexString,
		"belongs_to_uuid": storage.IndexString,
		"owner_uuid":      storage.IndexString,
	}
	for k, v := range addrIndex {
		idx[k] = v
	}
	return storage.Bucket{
		Name:    IPBucketName(n.UUID),
		Version: version,
		Indexes: idx,
	}
}

// IPBucketName derives the IP bucket name for a network UUID.
func IPBucketName(networkUUID string) string {
	return "napi_ips_" + strings.ReplaceAll(networkUUID, "-", "_")
}

// IsOwner reports whether owner may provision on this network. Networks
// without owner restriction accept anyone; the administrative owner always
// passes.
func (n *Network) IsOwner(owner string) bool {
	if len(n.OwnerUUIDs) == 0 {
		return true
	}
	if owner == AdminOwnerUUID {
		return true
	}
	for _, u := range n.OwnerUUIDs {
		if u == owner {
			return true
		}
	}
	return false
}

// Contains reports whether addr is inside the network's subnet.
func (n *Network) Contains(addr netip.Addr) bool {
	return cidr.PrefixContainsAddr(n.Subnet, addr)
}

// InProvisionRange reports whether addr is inside the allocable range.
func (n *Network) InProvisionRange(addr netip.Addr) bool {
	a := cidr.AddrToUint32(addr)
	return a >= cidr.AddrToUint32(n.ProvisionStart) && a <= cidr.AddrToUint32(n.ProvisionEnd)
}

// Serialize renders the network as its storage row. Addresses are stored in
// integer form.
func (n *Network) Serialize() storage.Row {
	row := storage.Row{
		"uuid":               n.UUID,
		"name":               n.Name,
		"subnet":             n.Subnet.String(),
		"vlan_id":            n.VLANID,
		"nic_tag":            n.NicTag,
		"provision_start_ip": cidr.AddrToUint32(n.ProvisionStart),
		"provision_end_ip":   cidr.AddrToUint32(n.ProvisionEnd),
		"mtu":                n.MTU,
		"fabric":             n.Fabric,
		"ip_use_strings":     n.IPUseStrings,
		"v":                  BucketNetworks.Version,
	}
	if len(n.OwnerUUIDs) > 0 {
		row["owner_uuids"] = append([]string(nil), n.OwnerUUIDs...)
	}
	if n.Gateway.IsValid() {
		row["gateway"] = cidr.AddrToUint32(n.Gateway)
	}
	if len(n.Resolvers) > 0 {
		resolvers := make([]any, 0, len(n.Resolvers))
		for _, r := range n.Resolvers {
			resolvers = append(resolvers, cidr.AddrToUint32(r))
		}
		row["resolvers"] = resolvers
	}
	if n.Fabric {
		row["vnet_id"] = n.VnetID
	}
	return row
}

// FromObject rehydrates a Network from its storage object.
func FromObject(obj *storage.Object) (*Network, error) {
	row := obj.Value
	n := &Network{Etag: obj.Etag}

	var ok bool
	if n.UUID, ok = row.StringField("uuid"); !ok {
		return nil, fmt.Errorf("network row %s: missing uuid", obj.Key)
	}
	n.Name, _ = row.StringField("name")

	subnet, ok := row.StringField("subnet")
	if !ok {
		return nil, fmt.Errorf("network %s: missing subnet", n.UUID)
	}
	p, err := cidr.ParseCIDR(subnet)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", n.UUID, err)
	}
	n.Subnet = p

	n.VLANID, _ = row.IntField("vlan_id")
	n.NicTag, _ = row.StringField("nic_tag")
	n.OwnerUUIDs = row.StringsField("owner_uuids")

	start, ok := row.Uint32Field("provision_start_ip")
	if !ok {
		return nil, fmt.Errorf("network %s: missing provision_start_ip", n.UUID)
	}
	end, ok := row.Uint32Field("provision_end_ip")
	if !ok {
		return nil, fmt.Errorf("network %s: missing provision_end_ip", n.UUID)
	}
	n.ProvisionStart = cidr.Uint32ToAddr(start)
	n.ProvisionEnd = cidr.Uint32ToAddr(end)

	if gw, ok := row.Uint32Field("gateway"); ok {
		n.Gateway = cidr.Uint32ToAddr(gw)
	}
	if resolvers, ok := row["resolvers"].([]any); ok {
		for _, r := range resolvers {
			rr := storage.Row{"r": r}
			if v, ok := rr.Uint32Field("r"); ok {
				n.Resolvers = append(n.Resolvers, cidr.Uint32ToAddr(v))
			}
		}
	}

	n.MTU, _ = row.IntField("mtu")
	if n.MTU == 0 {
		n.MTU = DefaultMTU
	}
	n.Fabric = row.BoolField("fabric")
	if vnet, ok := row.Uint32Field("vnet_id"); ok {
		n.VnetID = vnet
	}
	n.IPUseStrings = row.BoolField("ip_use_strings")
	return n, nil
}

// Mutation builds the batch mutation persisting this network. The etag is
// checked: empty means optimistic create.
func (n *Network) Mutation() storage.Mutation {
	opts := storage.PutIfNotExists()
	if n.Etag != "" {
		opts = storage.PutIfEtag(n.Etag)
	}
	return storage.Mutation{
		Bucket:   BucketNetworks.Name,
		Key:      n.UUID,
		Op:       storage.OpPut,
		Value:    n.Serialize(),
		Options:  opts,
		OnCommit: func(etag string) { n.Etag = etag },
	}
}

// Get fetches one network by UUID.
func Get(ctx context.Context, pctx *params.Context, uuid string) (*Network, error) {
	obj, err := pctx.Store.GetObject(ctx, BucketNetworks.Name, uuid)
	if err != nil {
		return nil, err
	}
	return FromObject(obj)
}

// ListOpts filters network listing.
type ListOpts struct {
	NicTag    string
	VLANID    *int
	OwnerUUID string
	Fabric    *bool
	Limit     int
	Offset    int
}

// List returns networks matching opts, ordered by UUID.
func List(ctx context.Context, pctx *params.Context, opts ListOpts) ([]*Network, error) {
	f := storage.NewFilter()
	if opts.NicTag != "" {
		f.Eq("nic_tag", opts.NicTag)
	}
	if opts.VLANID != nil {
		f.Eq("vlan_id", *opts.VLANID)
	}
	if opts.OwnerUUID != "" {
		f.Eq("owner_uuids", opts.OwnerUUID)
	}
	if opts.Fabric != nil {
		f.Eq("fabric", *opts.Fabric)
	}
	objs, err := pctx.Store.FindObjects(ctx, BucketNetworks.Name, f, storage.FindOptions{
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Network, 0, len(objs))
	for i := range objs {
		n, err := FromObject(&objs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// FindContaining returns the networks on the given tag and VLAN whose subnet
// contains addr. Used to locate the network for an IP supplied without one.
func FindContaining(ctx context.Context, pctx *params.Context, nicTag string, vlanID int, addr netip.Addr) ([]*Network, error) {
	f := storage.NewFilter().Eq("nic_tag", nicTag).Eq("vlan_id", vlanID)
	objs, err := pctx.Store.FindObjects(ctx, BucketNetworks.Name, f, storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	var out []*Network
	for i := range objs {
		n, err := FromObject(&objs[i])
		if err != nil {
			return nil, err
		}
		if n.Contains(addr) {
			out = append(out, n)
		}
	}
	return out, nil
}

// GetByName returns the network with the given name, or ErrNotFound.
func GetByName(ctx context.Context, pctx *params.Context, name string) (*Network, error) {
	objs, err := pctx.Store.FindObjects(ctx, BucketNetworks.Name,
		storage.NewFilter().Eq("name", name), storage.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("network %q: %w", name, storage.ErrNotFound)
	}
	return FromObject(&objs[0])
}
