// Package overlay builds the event-sink mutations that notify the overlay
// subsystem of fabric topology changes. Events ride inside the same atomic
// batch as the topology change they describe, and their relative order
// within a batch is preserved (they form a causally-ordered log).
package overlay

import (
	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// BucketEvents is the overlay change-log bucket schema.
var BucketEvents = storage.Bucket{
	Name:    "napi_overlay_events",
	Version: 1,
	Indexes: map[string]storage.IndexType{
		"kind":    storage.IndexString,
		"cn_uuid": storage.IndexString,
		"vnet_id": storage.IndexNumber,
		"mac":     storage.IndexNumber,
	},
}

// Event kinds.
const (
	KindNicUpdate     = "nic.update"
	KindNicDelete     = "nic.delete"
	KindNetworkUpdate = "network.update"
)

// NicChange describes one fabric-relevant NIC mutation.
type NicChange struct {
	Kind        string
	MAC         uint64
	CnUUID      string
	VnetID      uint32
	IP          string
	NetworkUUID string
}

// Mutation renders the change as an event-sink batch entry.
func (c NicChange) Mutation() storage.Mutation {
	return storage.Mutation{
		Bucket: BucketEvents.Name,
		Key:    uuid.NewString(),
		Op:     storage.OpPut,
		Value: storage.Row{
			"kind":         c.Kind,
			"mac":          c.MAC,
			"cn_uuid":      c.CnUUID,
			"vnet_id":      c.VnetID,
			"ip":           c.IP,
			"network_uuid": c.NetworkUUID,
			"v":            BucketEvents.Version,
		},
		EventSink: true,
	}
}
