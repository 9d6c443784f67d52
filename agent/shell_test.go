package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/eventbus"
	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/internal/pattern"
	"github.com/agentic-qe/fleet/types"
)

func newTestShell(t *testing.T) *Shell {
	t.Helper()
	return NewShell(Options{
		Identity: types.AgentIdentity{ID: "agent-1", Kind: "tester"},
		TaskKind: "test",
		Store:    memorystore.NewInMemoryStore(memorystore.InMemoryConfig{}, zap.NewNop()),
		Bus:      eventbus.New(eventbus.DefaultConfig(), zap.NewNop(), nil),
		Patterns: pattern.New(pattern.DefaultConfig(), nil, nil, zap.NewNop(), nil),
		Logger:   zap.NewNop(),
	})
}

func TestShell_PerformTaskDispatchesToRegisteredHandler(t *testing.T) {
	s := newTestShell(t)
	require.NoError(t, s.Start(context.Background()))

	called := false
	s.RegisterHandler("scan", func(ctx context.Context, task types.Task) (any, error) {
		called = true
		return "ok", nil
	})

	result, err := s.PerformTask(context.Background(), types.Task{ID: "t1", Type: "scan"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", result)
}

func TestShell_PerformTaskUnknownTypeIsValidationError(t *testing.T) {
	s := newTestShell(t)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.PerformTask(context.Background(), types.Task{ID: "t1", Type: "unregistered"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))
}

func TestShell_PerformTaskReturnsToIdleAfterHandler(t *testing.T) {
	s := newTestShell(t)
	require.NoError(t, s.Start(context.Background()))
	s.RegisterHandler("scan", func(ctx context.Context, task types.Task) (any, error) { return nil, nil })

	_, err := s.PerformTask(context.Background(), types.Task{ID: "t1", Type: "scan"})
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusIdle, s.Lifecycle.State())
}

func TestShell_SubmitRunsThroughDispatcherEndToEnd(t *testing.T) {
	s := newTestShell(t)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	s.RegisterHandler("scan", func(ctx context.Context, task types.Task) (any, error) { return "done", nil })
	s.Submit(types.Task{Type: "scan", Priority: 1})

	select {
	case result := <-s.Dispatcher.Results():
		assert.Equal(t, types.ResultSuccess, result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never produced a result")
	}
}

func TestShell_StopTerminatesLifecycleAndClosesCoordinator(t *testing.T) {
	s := newTestShell(t)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, types.AgentStatusTerminated, s.Lifecycle.State())
}

func TestShell_RecordsExecutionEventOnFailure(t *testing.T) {
	s := newTestShell(t)
	require.NoError(t, s.Start(context.Background()))
	s.RegisterHandler("fail", func(ctx context.Context, task types.Task) (any, error) {
		return nil, types.NewError(types.ErrTimeout, "boom")
	})

	_, err := s.PerformTask(context.Background(), types.Task{ID: "t1", Type: "fail"})
	require.Error(t, err)

	cycle, cycleErr := s.Learning.RunCycle(context.Background())
	require.NoError(t, cycleErr)
	assert.Equal(t, 0, cycle.MitigationsAssigned) // single failure stays below the default threshold

	report, trainErr := s.Learning.Train(context.Background(), 0)
	require.NoError(t, trainErr)
	assert.Equal(t, 1, report.Iterations) // the failed execution was buffered for training
}
