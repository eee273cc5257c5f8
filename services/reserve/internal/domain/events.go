package domain

import (
	"encoding/json"
	"time"
)

const (
	EventLeaseAcquired  = "LeaseAcquired"
	EventLeaseRenewed   = "LeaseRenewed"
	EventLeaseReleased  = "LeaseReleased"
	EventLeaseCommitted = "LeaseCommitted"
	EventLeaseExpired   = "LeaseExpired"
)

const TopicLeaseLifecycle = "reserve.lease.lifecycle"

// Envelope is the wire format for lease lifecycle events.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	Payload      json.RawMessage `json:"payload"`
}

type LeaseEventPayload struct {
	LeaseID      string    `json:"lease_id"`
	ResourceKind string    `json:"resource_kind"`
	ResourceID   string    `json:"resource_id"`
	HolderID     string    `json:"holder_id"`
	State        string    `json:"state"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// PartitionKey keeps all events for one resource in order on a single
// partition.
func PartitionKey(res Resource) []byte {
	return []byte(string(res.Kind) + ":" + res.ID)
}
