package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/types"
)

func newTestManager() (*Manager, memorystore.Store) {
	store := memorystore.NewInMemoryStore(memorystore.InMemoryConfig{}, zap.NewNop())
	identity := types.AgentIdentity{ID: "agent-1", Kind: "sast", Capabilities: []types.Capability{{Name: "scan", Version: "1.0.0"}}}
	return New(identity, store, nil, nil, zap.NewNop()), store
}

func TestManager_HappyPathInitializeToIdle(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	err := m.Initialize(ctx, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusIdle, m.State())
}

func TestManager_InitHookFailureGoesToFailed(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	cause := errors.New("boom")

	err := m.Initialize(ctx, func(ctx context.Context) error { return cause })
	require.Error(t, err)
	assert.Equal(t, types.AgentStatusFailed, m.State())
	assert.ErrorIs(t, m.FailureCause(), cause)
}

func TestManager_IdleBusyRoundTrip(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, nil))

	require.NoError(t, m.MarkBusy(ctx))
	assert.Equal(t, types.AgentStatusBusy, m.State())
	require.NoError(t, m.MarkIdle(ctx))
	assert.Equal(t, types.AgentStatusIdle, m.State())
}

func TestManager_PauseResume(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, nil))

	require.NoError(t, m.Pause(ctx))
	assert.Equal(t, types.AgentStatusPaused, m.State())
	require.NoError(t, m.Resume(ctx))
	assert.Equal(t, types.AgentStatusIdle, m.State())
}

func TestManager_IllegalTransitionIsRejected(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	// uninitialized -> busy is not in the graph.
	err := m.MarkBusy(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))
	assert.Equal(t, types.AgentStatusUninitialized, m.State())
}

func TestManager_TerminateReachesTerminatedDespiteCleanupError(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, nil))

	err := m.Terminate(ctx, func(ctx context.Context) error { return errors.New("cleanup failed") })
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusTerminated, m.State())
}

func TestManager_FirstIdleEntryAdvertisesCapabilities(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, nil))

	entry, err := store.Retrieve(ctx, types.PartitionFleet, types.AgentCapabilityKey("agent-1"))
	require.NoError(t, err)
	assert.Contains(t, string(entry.Value), "scan")
}

func TestManager_SecondIdleEntryDoesNotReadvertise(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, nil))
	require.NoError(t, m.MarkBusy(ctx))
	require.NoError(t, m.MarkIdle(ctx))

	entry, err := store.Retrieve(ctx, types.PartitionFleet, types.AgentCapabilityKey("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Version)
}

func TestManager_FailFromBusyIsLegal(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, nil))
	require.NoError(t, m.MarkBusy(ctx))

	cause := errors.New("task runtime panic")
	require.NoError(t, m.Fail(ctx, cause))
	assert.Equal(t, types.AgentStatusFailed, m.State())
}
