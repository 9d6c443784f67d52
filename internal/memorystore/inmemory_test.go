package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/types"
)

type mutableClock struct{ cur time.Time }

func (c *mutableClock) now() time.Time { return c.cur }
func (c *mutableClock) advance(d time.Duration) { c.cur = c.cur.Add(d) }

func TestInMemoryStore_StoreRetrieveRoundTrip(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	ctx := context.Background()

	v, err := s.Store(ctx, "aqe", "security/baselines", []byte("payload"), "json", "agent-1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	entry, err := s.Retrieve(ctx, "aqe", "security/baselines")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), entry.Value)
	assert.Equal(t, "agent-1", entry.Writer)
}

func TestInMemoryStore_RetrieveMissingIsNotFound(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	_, err := s.Retrieve(context.Background(), "aqe", "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestInMemoryStore_TTLExpiryIsLazy(t *testing.T) {
	clock := &mutableClock{cur: time.Now()}
	s := NewInMemoryStore(InMemoryConfig{Now: clock.now}, zap.NewNop())
	ctx := context.Background()

	_, err := s.Store(ctx, "aqe", "k", []byte("v"), "json", "w", 1)
	require.NoError(t, err)

	_, err = s.Retrieve(ctx, "aqe", "k")
	require.NoError(t, err)

	clock.advance(2 * time.Second)
	_, err = s.Retrieve(ctx, "aqe", "k")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestInMemoryStore_QueryGlobPattern(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	ctx := context.Background()

	_, _ = s.Store(ctx, "aqe", "security/baselines", []byte("a"), "json", "w", 0)
	_, _ = s.Store(ctx, "aqe", "security/rules", []byte("b"), "json", "w", 0)
	_, _ = s.Store(ctx, "aqe", "coverage/report", []byte("c"), "json", "w", 0)

	entries, err := s.Query(ctx, "aqe", "security/*")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestInMemoryStore_StoreSharedUsesFleetPartition(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	ctx := context.Background()

	_, err := s.StoreShared(ctx, "test-generator", "caps", []byte("{}"), "json", "agent-1")
	require.NoError(t, err)

	entry, err := s.Retrieve(ctx, types.PartitionFleet, "test-generator/caps")
	require.NoError(t, err)
	assert.Equal(t, types.PartitionFleet, entry.Partition)
}

func TestInMemoryStore_StoreEventAppendsToEventsPartition(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	ctx := context.Background()

	err := s.StoreEvent(ctx, types.Event{Type: "test.generated", Source: "agent-1", Seq: 1, Timestamp: time.Now()})
	require.NoError(t, err)

	entries, err := s.Query(ctx, types.PartitionEvents, "*")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInMemoryStore_FailedStoreLeavesPriorValueIntact(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	ctx := context.Background()

	_, err := s.Store(ctx, "aqe", "k", []byte("v1"), "json", "w", 0)
	require.NoError(t, err)

	_, err = s.Store(ctx, "aqe", "", []byte("v2"), "json", "w", 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))

	entry, err := s.Retrieve(ctx, "aqe", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), entry.Value)
}

func TestInMemoryStore_DeleteIsIdempotent(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	ctx := context.Background()

	_, _ = s.Store(ctx, "aqe", "k", []byte("v"), "json", "w", 0)
	require.NoError(t, s.Delete(ctx, "aqe", "k"))
	require.NoError(t, s.Delete(ctx, "aqe", "k"))

	_, err := s.Retrieve(ctx, "aqe", "k")
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestInMemoryStore_EvictsOldestWhenOverCapacity(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{MaxEntries: 2}, zap.NewNop())
	ctx := context.Background()

	_, _ = s.Store(ctx, "aqe", "k1", []byte("1"), "json", "w", 0)
	_, _ = s.Store(ctx, "aqe", "k2", []byte("2"), "json", "w", 0)
	_, _ = s.Store(ctx, "aqe", "k3", []byte("3"), "json", "w", 0)

	entries, err := s.Query(ctx, "aqe", "*")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = s.Retrieve(ctx, "aqe", "k1")
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestInMemoryStore_VersionIsMonotonicPerKey(t *testing.T) {
	s := NewInMemoryStore(InMemoryConfig{}, zap.NewNop())
	ctx := context.Background()

	v1, _ := s.Store(ctx, "aqe", "k", []byte("1"), "json", "w", 0)
	v2, _ := s.Store(ctx, "aqe", "k", []byte("2"), "json", "w", 0)
	assert.Greater(t, v2, v1)
}
