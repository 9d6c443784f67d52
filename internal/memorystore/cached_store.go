package memorystore

import (
	"context"

	"github.com/agentic-qe/fleet/types"
)

// CachedStore composes a backing Store with an optional SharedCache,
// mirroring writes to the "fleet" partition and preferring the cache on
// reads from that partition. All other partitions pass straight through.
type CachedStore struct {
	backing Store
	shared  *SharedCache
}

// NewCachedStore wraps backing with shared. A nil shared is valid and
// makes CachedStore behave exactly like backing.
func NewCachedStore(backing Store, shared *SharedCache) *CachedStore {
	return &CachedStore{backing: backing, shared: shared}
}

func (c *CachedStore) Store(ctx context.Context, partitionName, key string, value []byte, format, writer string, ttlSeconds int64) (uint64, error) {
	version, err := c.backing.Store(ctx, partitionName, key, value, format, writer, ttlSeconds)
	if err == nil && partitionName == types.PartitionFleet && c.shared != nil {
		ownerKind, shortKey := splitFleetKey(key)
		entry, rerr := c.backing.Retrieve(ctx, partitionName, key)
		if rerr == nil {
			c.shared.Mirror(ctx, ownerKind, shortKey, entry)
		}
	}
	return version, err
}

func (c *CachedStore) Retrieve(ctx context.Context, partitionName, key string) (types.MemoryEntry, error) {
	if partitionName == types.PartitionFleet && c.shared != nil {
		ownerKind, shortKey := splitFleetKey(key)
		if entry, err := c.shared.Lookup(ctx, ownerKind, shortKey); err == nil {
			return entry, nil
		}
	}
	return c.backing.Retrieve(ctx, partitionName, key)
}

func (c *CachedStore) Query(ctx context.Context, partitionName, globPattern string) ([]types.MemoryEntry, error) {
	return c.backing.Query(ctx, partitionName, globPattern)
}

func (c *CachedStore) StoreShared(ctx context.Context, ownerKind, key string, value []byte, format, writer string) (uint64, error) {
	return c.Store(ctx, types.PartitionFleet, ownerKind+"/"+key, value, format, writer, 0)
}

func (c *CachedStore) StoreEvent(ctx context.Context, event types.Event) error {
	return c.backing.StoreEvent(ctx, event)
}

func (c *CachedStore) Delete(ctx context.Context, partitionName, key string) error {
	if err := c.backing.Delete(ctx, partitionName, key); err != nil {
		return err
	}
	if partitionName == types.PartitionFleet && c.shared != nil {
		ownerKind, shortKey := splitFleetKey(key)
		c.shared.Evict(ctx, ownerKind, shortKey)
	}
	return nil
}

func (c *CachedStore) Close() error { return c.backing.Close() }

// splitFleetKey splits a "fleet" partition key of the form
// "<ownerKind>/<rest>" into its two parts.
func splitFleetKey(key string) (ownerKind, rest string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
