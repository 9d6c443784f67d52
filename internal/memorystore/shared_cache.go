package memorystore

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/cache"
	"github.com/agentic-qe/fleet/types"
)

// SharedCache mirrors the "fleet" partition onto Redis so a multi-process
// fleet can read capability advertisements without a SQL round trip on
// every poll. It is additive: callers fall back to the SQL/in-memory
// Store when the mirror misses, so correctness never depends on it.
type SharedCache struct {
	cache  *cache.Manager
	logger *zap.Logger
}

// NewSharedCache wraps an already-connected cache.Manager.
func NewSharedCache(mgr *cache.Manager, logger *zap.Logger) *SharedCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SharedCache{cache: mgr, logger: logger.With(zap.String("component", "memorystore_shared_cache"))}
}

func sharedCacheKey(ownerKind, key string) string {
	return "fleet:agent:" + ownerKind + ":" + key
}

// Mirror writes entry's value into the cache under the fleet/<ownerKind>/key
// convention, best-effort: a cache write failure is logged, not surfaced,
// since the SQL/in-memory Store remains the source of truth.
func (c *SharedCache) Mirror(ctx context.Context, ownerKind, key string, entry types.MemoryEntry) {
	if c == nil || c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, sharedCacheKey(ownerKind, key), entry, 0); err != nil {
		c.logger.Warn("shared cache mirror write failed", zap.String("key", key), zap.Error(err))
	}
}

// Lookup reads a mirrored capability advertisement, reporting a cache miss
// via cache.IsCacheMiss so callers can fall back to the backing Store.
func (c *SharedCache) Lookup(ctx context.Context, ownerKind, key string) (types.MemoryEntry, error) {
	if c == nil || c.cache == nil {
		return types.MemoryEntry{}, cache.ErrCacheMiss
	}
	var entry types.MemoryEntry
	if err := c.cache.GetJSON(ctx, sharedCacheKey(ownerKind, key), &entry); err != nil {
		return types.MemoryEntry{}, err
	}
	return entry, nil
}

// Evict removes a mirrored entry, used when the backing Store deletes it.
func (c *SharedCache) Evict(ctx context.Context, ownerKind, key string) {
	if c == nil || c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, sharedCacheKey(ownerKind, key)); err != nil {
		c.logger.Warn("shared cache evict failed", zap.String("key", key), zap.Error(err))
	}
}
