package api

import (
	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/network"
	"github.com/joshwilsdon-forks/sdc-napi/internal/nic"
)

// networkView is the wire shape of a network. Addresses render in dotted
// form regardless of the storage generation.
type networkView struct {
	UUID           string   `json:"uuid"`
	Name           string   `json:"name"`
	Subnet         string   `json:"subnet"`
	VLANID         int      `json:"vlan_id"`
	NicTag         string   `json:"nic_tag"`
	ProvisionStart string   `json:"provision_start_ip"`
	ProvisionEnd   string   `json:"provision_end_ip"`
	Gateway        string   `json:"gateway,omitempty"`
	Resolvers      []string `json:"resolvers,omitempty"`
	MTU            int      `json:"mtu"`
	OwnerUUIDs     []string `json:"owner_uuids,omitempty"`
	Fabric         bool     `json:"fabric,omitempty"`
	VnetID         *uint32  `json:"vnet_id,omitempty"`
	Netmask        string   `json:"netmask"`
}

func viewNetwork(n *network.Network) networkView {
	v := networkView{
		UUID:           n.UUID,
		Name:           n.Name,
		Subnet:         n.Subnet.String(),
		VLANID:         n.VLANID,
		NicTag:         n.NicTag,
		ProvisionStart: n.ProvisionStart.String(),
		ProvisionEnd:   n.ProvisionEnd.String(),
		MTU:            n.MTU,
		OwnerUUIDs:     n.OwnerUUIDs,
		Fabric:         n.Fabric,
		Netmask:        netmask(n.Subnet.Bits()),
	}
	if n.Gateway.IsValid() {
		v.Gateway = n.Gateway.String()
	}
	for _, r := range n.Resolvers {
		v.Resolvers = append(v.Resolvers, r.String())
	}
	if n.Fabric {
		vnet := n.VnetID
		v.VnetID = &vnet
	}
	return v
}

func netmask(bits int) string {
	m := uint32(0xffffffff)
	if bits < 32 {
		m <<= 32 - bits
	}
	return cidr.Uint32ToAddr(m).String()
}

type poolView struct {
	UUID      string   `json:"uuid"`
	Name      string   `json:"name"`
	Networks  []string `json:"networks"`
	NicTag    string   `json:"nic_tag"`
	OwnerUUID string   `json:"owner_uuid,omitempty"`
}

func viewPool(p *network.Pool) poolView {
	return poolView{
		UUID:      p.UUID,
		Name:      p.Name,
		Networks:  p.Networks,
		NicTag:    p.NicTag,
		OwnerUUID: p.OwnerUUID,
	}
}

type ipView struct {
	IP            string `json:"ip"`
	Reserved      bool   `json:"reserved"`
	Free          bool   `json:"free"`
	BelongsToType string `json:"belongs_to_type,omitempty"`
	BelongsToUUID string `json:"belongs_to_uuid,omitempty"`
	OwnerUUID     string `json:"owner_uuid,omitempty"`
	NetworkUUID   string `json:"network_uuid"`
}

func viewIP(rec *ip.IP) ipView {
	return ipView{
		IP:            rec.Addr.String(),
		Reserved:      rec.Reserved,
		Free:          rec.Free(),
		BelongsToType: rec.BelongsToType,
		BelongsToUUID: rec.BelongsToUUID,
		OwnerUUID:     rec.OwnerUUID,
		NetworkUUID:   rec.Ref.NetworkUUID,
	}
}

type nicView struct {
	MAC           string  `json:"mac"`
	BelongsToType string  `json:"belongs_to_type"`
	BelongsToUUID string  `json:"belongs_to_uuid"`
	OwnerUUID     string  `json:"owner_uuid"`
	Primary       bool    `json:"primary"`
	State         string  `json:"state"`
	NicTag        string  `json:"nic_tag,omitempty"`
	VLANID        *int    `json:"vlan_id,omitempty"`
	NetworkUUID   string  `json:"network_uuid,omitempty"`
	IP            string  `json:"ip,omitempty"`
	Underlay      bool    `json:"underlay,omitempty"`
	CnUUID        string  `json:"cn_uuid,omitempty"`
	VnetID        *uint32 `json:"vnet_id,omitempty"`
}

func viewNic(n *nic.NIC) nicView {
	v := nicView{
		MAC:           nic.MACToString(n.MAC),
		BelongsToType: n.BelongsToType,
		BelongsToUUID: n.BelongsToUUID,
		OwnerUUID:     n.OwnerUUID,
		Primary:       n.Primary,
		State:         n.State,
		NicTag:        n.NicTag,
		NetworkUUID:   n.NetworkUUID,
		Underlay:      n.Underlay,
		CnUUID:        n.CnUUID,
	}
	if n.NetworkUUID != "" || n.NicTag != "" {
		vlan := n.VLANID
		v.VLANID = &vlan
	}
	if n.IP.IsValid() {
		v.IP = n.IP.String()
	}
	if n.OnFabric() {
		vnet := n.VnetID
		v.VnetID = &vnet
	}
	return v
}
