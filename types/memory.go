package types

import "time"

// MemoryEntry is one record in the shared memory store.
type MemoryEntry struct {
	Key       string    `json:"key"`
	Partition string    `json:"partition"`
	TTL       int64     `json:"ttl_seconds,omitempty"` // 0 means no expiry
	Value     []byte    `json:"value"`
	Format    string    `json:"format"` // serialization format tag, e.g. "json"
	Writer    string    `json:"writer"` // writer's agent ID
	CreatedAt time.Time `json:"created_at"`
	Version   uint64    `json:"version"` // monotonic per key
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e MemoryEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(time.Duration(e.TTL) * time.Second))
}

// Well-known memory-key conventions (spec §6).
const (
	PartitionFleet  = "fleet"
	PartitionEvents = "events"
)

// AgentCapabilityKey builds the fleet/agent/<id> capability-advertisement key.
func AgentCapabilityKey(agentID string) string {
	return "agent/" + agentID
}
