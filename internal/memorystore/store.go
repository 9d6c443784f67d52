package memorystore

import (
	"context"

	"github.com/agentic-qe/fleet/types"
)

// Store is the contract both backends satisfy (spec §4.1).
type Store interface {
	// Store upserts value under partition/key, returning the new
	// monotonic version. ttlSeconds of 0 means no expiry.
	Store(ctx context.Context, partition, key string, value []byte, format string, writer string, ttlSeconds int64) (uint64, error)

	// Retrieve returns the entry for partition/key, or ErrNotFound if
	// absent or lazily expired.
	Retrieve(ctx context.Context, partition, key string) (types.MemoryEntry, error)

	// Query returns every non-expired entry in partition whose key
	// matches globPattern. Order is unspecified.
	Query(ctx context.Context, partition, globPattern string) ([]types.MemoryEntry, error)

	// StoreShared writes under the reserved "fleet" partition, keyed
	// ownerKind/key, per the fleet/agent/<id> convention.
	StoreShared(ctx context.Context, ownerKind, key string, value []byte, format, writer string) (uint64, error)

	// StoreEvent appends event to the append-only "events" partition.
	StoreEvent(ctx context.Context, event types.Event) error

	// Delete removes partition/key. Deleting an absent key is not an error.
	Delete(ctx context.Context, partition, key string) error

	Close() error
}
