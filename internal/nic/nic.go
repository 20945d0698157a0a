// Package nic implements the NIC model: MAC-keyed interface records, their
// association with networks and fabric overlays, and the provisioning
// pipeline that allocates their addresses.
package nic

import (
	"crypto/rand"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// NIC states.
const (
	StateProvisioning = "provisioning"
	StateStopped      = "stopped"
	StateRunning      = "running"
)

// BucketNics is the NICs bucket schema. Rows are keyed by the MAC address
// in decimal integer form.
var BucketNics = storage.Bucket{
	Name:    "napi_nics",
	Version: 1,
	Indexes: map[string]storage.IndexType{
		"mac":             storage.IndexNumber,
		"belongs_to_type": storage.IndexString,
		"belongs_to_uuid": storage.IndexString,
		"owner_uuid":      storage.IndexString,
		"nic_tag":         storage.IndexString,
		"vlan_id":         storage.IndexNumber,
		"network_uuid":    storage.IndexString,
		"state":           storage.IndexString,
		"underlay":        storage.IndexBool,
		"cn_uuid":         storage.IndexString,
	},
}

// NIC is one network interface attached to a workload.
type NIC struct {
	MAC           uint64
	BelongsToType string
	BelongsToUUID string
	OwnerUUID     string
	Primary       bool
	NicTag        string
	VLANID        int
	NetworkUUID   string
	IP            netip.Addr // zero value when off-network
	State         string
	Underlay      bool
	CnUUID        string
	Fabric        bool
	VnetID        uint32

	Etag string
}

// MACFromString parses a colon-separated MAC address into its integer form.
func MACFromString(s string) (uint64, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return 0, fmt.Errorf("invalid MAC address: %q", s)
	}
	var n uint64
	for _, b := range hw {
		n = n<<8 | uint64(b)
	}
	return n, nil
}

// MACToString renders the integer form back to colon-separated notation.
func MACToString(n uint64) string {
	hw := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		hw[i] = byte(n)
		n >>= 8
	}
	return hw.String()
}

// macOUI is the organizationally unique identifier prefixed to generated
// MACs.
var macOUI = [3]byte{0x90, 0xb8, 0xd0}

// RandomMAC generates a MAC in the service's OUI space.
func RandomMAC() (uint64, error) {
	var suffix [3]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return 0, err
	}
	var n uint64
	for _, b := range macOUI {
		n = n<<8 | uint64(b)
	}
	for _, b := range suffix {
		n = n<<8 | uint64(b)
	}
	return n, nil
}

// Key returns the row key: the MAC's decimal integer form.
func (n *NIC) Key() string {
	return strconv.FormatUint(n.MAC, 10)
}

// OnFabric reports whether the NIC sits on a fabric (overlay) network.
// Fabric-ness is tracked explicitly: vnet_id 0 is a valid overlay
// identifier, so a nonzero vnet cannot stand in for it.
func (n *NIC) OnFabric() bool {
	return n.Fabric
}

// Serialize renders the NIC as its storage row.
func (n *NIC) Serialize() storage.Row {
	row := storage.Row{
		"mac":             n.MAC,
		"belongs_to_type": n.BelongsToType,
		"belongs_to_uuid": n.BelongsToUUID,
		"owner_uuid":      n.OwnerUUID,
		"nic_tag":         n.NicTag,
		"vlan_id":         n.VLANID,
		"state":           n.State,
		"v":               BucketNics.Version,
	}
	if n.Primary {
		row["primary"] = true
	}
	if n.NetworkUUID != "" {
		row["network_uuid"] = n.NetworkUUID
	}
	if n.IP.IsValid() {
		row["ip"] = cidr.AddrToUint32(n.IP)
	}
	if n.Underlay {
		row["underlay"] = true
	}
	if n.CnUUID != "" {
		row["cn_uuid"] = n.CnUUID
	}
	if n.Fabric {
		row["fabric"] = true
		row["vnet_id"] = n.VnetID
	}
	return row
}

// FromObject rehydrates a NIC from its storage object.
func FromObject(obj *storage.Object) (*NIC, error) {
	row := obj.Value
	n := &NIC{Etag: obj.Etag}

	mac, ok := row["mac"]
	if !ok {
		return nil, fmt.Errorf("nic row %s: missing mac", obj.Key)
	}
	switch m := mac.(type) {
	case uint64:
		n.MAC = m
	case int64:
		n.MAC = uint64(m)
	case int:
		n.MAC = uint64(m)
	case float64:
		n.MAC = uint64(m)
	default:
		return nil, fmt.Errorf("nic row %s: bad mac field", obj.Key)
	}

	n.BelongsToType, _ = row.StringField("belongs_to_type")
	n.BelongsToUUID, _ = row.StringField("belongs_to_uuid")
	n.OwnerUUID, _ = row.StringField("owner_uuid")
	n.Primary = row.BoolField("primary")
	n.NicTag, _ = row.StringField("nic_tag")
	n.VLANID, _ = row.IntField("vlan_id")
	n.NetworkUUID, _ = row.StringField("network_uuid")
	if a, ok := row.Uint32Field("ip"); ok {
		n.IP = cidr.Uint32ToAddr(a)
	}
	n.State, _ = row.StringField("state")
	if n.State == "" {
		n.State = StateRunning
	}
	n.Underlay = row.BoolField("underlay")
	n.CnUUID, _ = row.StringField("cn_uuid")
	n.Fabric = row.BoolField("fabric")
	if v, ok := row.Uint32Field("vnet_id"); ok {
		n.VnetID = v
	}
	return n, nil
}

// Mutation builds the conditional put persisting this NIC.
func (n *NIC) Mutation() storage.Mutation {
	opts := storage.PutIfNotExists()
	if n.Etag != "" {
		opts = storage.PutIfEtag(n.Etag)
	}
	return storage.Mutation{
		Bucket:   BucketNics.Name,
		Key:      n.Key(),
		Op:       storage.OpPut,
		Value:    n.Serialize(),
		Options:  opts,
		OnCommit: func(etag string) { n.Etag = etag },
	}
}

// Claim returns the IP claim for this NIC's holder.
func (n *NIC) Claim() ip.Claim {
	return ip.Claim{
		BelongsToType: n.BelongsToType,
		BelongsToUUID: n.BelongsToUUID,
		OwnerUUID:     n.OwnerUUID,
	}
}
