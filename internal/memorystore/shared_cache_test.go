package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/cache"
	"github.com/agentic-qe/fleet/types"
)

func setupTestSharedCache(t *testing.T) (*miniredis.Miniredis, *SharedCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	return mr, NewSharedCache(mgr, zap.NewNop())
}

func TestSharedCache_MirrorThenLookup(t *testing.T) {
	mr, sc := setupTestSharedCache(t)
	defer mr.Close()
	ctx := context.Background()

	entry := types.MemoryEntry{Key: "caps", Partition: types.PartitionFleet, Writer: "agent-1", CreatedAt: time.Now()}
	sc.Mirror(ctx, "test-generator", "caps", entry)

	got, err := sc.Lookup(ctx, "test-generator", "caps")
	require.NoError(t, err)
	assert.Equal(t, entry.Writer, got.Writer)
}

func TestSharedCache_LookupMissReturnsCacheMiss(t *testing.T) {
	mr, sc := setupTestSharedCache(t)
	defer mr.Close()

	_, err := sc.Lookup(context.Background(), "test-generator", "missing")
	assert.True(t, cache.IsCacheMiss(err))
}

func TestSharedCache_EvictRemovesMirror(t *testing.T) {
	mr, sc := setupTestSharedCache(t)
	defer mr.Close()
	ctx := context.Background()

	sc.Mirror(ctx, "test-generator", "caps", types.MemoryEntry{Writer: "agent-1"})
	sc.Evict(ctx, "test-generator", "caps")

	_, err := sc.Lookup(ctx, "test-generator", "caps")
	assert.True(t, cache.IsCacheMiss(err))
}

func TestCachedStore_FallsBackToBackingOnCacheMiss(t *testing.T) {
	mr, sc := setupTestSharedCache(t)
	defer mr.Close()

	backing := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	cs := NewCachedStore(backing, sc)
	ctx := context.Background()

	_, err := cs.StoreShared(ctx, "test-generator", "caps", []byte("{}"), "json", "agent-1")
	require.NoError(t, err)

	entry, err := cs.Retrieve(ctx, types.PartitionFleet, "test-generator/caps")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", entry.Writer)
}

func TestCachedStore_NilSharedCacheBehavesLikeBacking(t *testing.T) {
	backing := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	cs := NewCachedStore(backing, nil)
	ctx := context.Background()

	_, err := cs.Store(ctx, "aqe", "k", []byte("v"), "json", "w", 0)
	require.NoError(t, err)

	entry, err := cs.Retrieve(ctx, "aqe", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Value)
}
