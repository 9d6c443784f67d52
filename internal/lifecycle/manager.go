package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/eventbus"
	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/internal/metrics"
	"github.com/agentic-qe/fleet/types"
)

// legalTransitions is the transition graph of spec §4.5. A target not
// listed for the current state is rejected.
var legalTransitions = map[types.AgentStatus][]types.AgentStatus{
	types.AgentStatusUninitialized: {types.AgentStatusInitializing, types.AgentStatusTerminating, types.AgentStatusFailed},
	types.AgentStatusInitializing:  {types.AgentStatusIdle, types.AgentStatusTerminating, types.AgentStatusFailed},
	types.AgentStatusIdle:          {types.AgentStatusBusy, types.AgentStatusPaused, types.AgentStatusTerminating, types.AgentStatusFailed},
	types.AgentStatusBusy:          {types.AgentStatusIdle, types.AgentStatusTerminating, types.AgentStatusFailed},
	types.AgentStatusPaused:        {types.AgentStatusIdle, types.AgentStatusTerminating, types.AgentStatusFailed},
	types.AgentStatusTerminating:   {types.AgentStatusTerminated, types.AgentStatusFailed},
	types.AgentStatusTerminated:    {},
	types.AgentStatusFailed:        {},
}

func isLegal(from, to types.AgentStatus) bool {
	for _, candidate := range legalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Manager drives one agent's state machine and publishes transitions to
// the event bus and the shared memory store's capability advertisement.
type Manager struct {
	identity types.AgentIdentity
	store    memorystore.Store
	bus      *eventbus.Bus // nil disables event emission
	metric   *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time

	mu            sync.Mutex
	state         types.AgentStatus
	failureCause  error
	advertisedOnce bool
}

// New builds a Manager for identity, starting in AgentStatusUninitialized.
// bus and metric may be nil.
func New(identity types.AgentIdentity, store memorystore.Store, bus *eventbus.Bus, metric *metrics.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		identity: identity,
		store:    store,
		bus:      bus,
		metric:   metric,
		logger:   logger.With(zap.String("component", "lifecycle"), zap.String("agent_id", identity.ID)),
		now:      time.Now,
		state:    types.AgentStatusUninitialized,
	}
}

// State returns the current state.
func (m *Manager) State() types.AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FailureCause returns the cause recorded by the most recent transition
// into AgentStatusFailed, or nil.
func (m *Manager) FailureCause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureCause
}

// Initialize runs initHook and transitions uninitialized -> initializing
// -> idle, or -> failed if initHook returns an error. On first entry to
// idle the agent's capability set is advertised to the memory store.
func (m *Manager) Initialize(ctx context.Context, initHook func(ctx context.Context) error) error {
	if err := m.transition(ctx, types.AgentStatusInitializing); err != nil {
		return err
	}

	var hookErr error
	if initHook != nil {
		hookErr = initHook(ctx)
	}
	if hookErr != nil {
		m.mu.Lock()
		m.failureCause = hookErr
		m.mu.Unlock()
		_ = m.transition(ctx, types.AgentStatusFailed)
		return types.Wrap(types.ErrInternal, "agent init hook failed", hookErr)
	}

	return m.transition(ctx, types.AgentStatusIdle)
}

// MarkBusy transitions idle -> busy.
func (m *Manager) MarkBusy(ctx context.Context) error {
	return m.transition(ctx, types.AgentStatusBusy)
}

// MarkIdle transitions busy -> idle.
func (m *Manager) MarkIdle(ctx context.Context) error {
	return m.transition(ctx, types.AgentStatusIdle)
}

// Pause transitions idle -> paused.
func (m *Manager) Pause(ctx context.Context) error {
	return m.transition(ctx, types.AgentStatusPaused)
}

// Resume transitions paused -> idle.
func (m *Manager) Resume(ctx context.Context) error {
	return m.transition(ctx, types.AgentStatusIdle)
}

// Fail transitions any non-terminal state to failed, recording cause.
func (m *Manager) Fail(ctx context.Context, cause error) error {
	m.mu.Lock()
	m.failureCause = cause
	m.mu.Unlock()
	return m.transition(ctx, types.AgentStatusFailed)
}

// Terminate transitions the agent through terminating to terminated,
// running cleanupHook along the way. Cleanup errors are logged but never
// prevent reaching terminated.
func (m *Manager) Terminate(ctx context.Context, cleanupHook func(ctx context.Context) error) error {
	if err := m.transition(ctx, types.AgentStatusTerminating); err != nil {
		return err
	}
	if cleanupHook != nil {
		if err := cleanupHook(ctx); err != nil {
			m.logger.Warn("cleanup hook failed during termination", zap.Error(err))
		}
	}
	return m.transition(ctx, types.AgentStatusTerminated)
}

func (m *Manager) transition(ctx context.Context, to types.AgentStatus) error {
	m.mu.Lock()
	from := m.state
	if !isLegal(from, to) {
		m.mu.Unlock()
		return types.NewError(types.ErrValidation, "illegal lifecycle transition "+string(from)+" -> "+string(to))
	}
	m.state = to
	firstIdleEntry := to == types.AgentStatusIdle && !m.advertisedOnce
	if firstIdleEntry {
		m.advertisedOnce = true
	}
	m.mu.Unlock()

	if m.metric != nil {
		m.metric.RecordStateTransition(m.identity.ID, string(from), string(to))
	}
	m.logger.Info("lifecycle transition", zap.String("from", string(from)), zap.String("to", string(to)))

	if m.bus != nil {
		m.bus.Publish(types.Event{
			Type:     "agent.state_transition",
			Source:   m.identity.ID,
			Severity: types.SeverityLow,
			Payload: map[string]string{
				"from": string(from),
				"to":   string(to),
			},
		})
	}

	if firstIdleEntry {
		m.advertiseCapabilities(ctx)
	}
	return nil
}

func (m *Manager) advertiseCapabilities(ctx context.Context) {
	if m.store == nil {
		return
	}
	payload, err := json.Marshal(m.identity)
	if err != nil {
		m.logger.Warn("failed to marshal capability advertisement", zap.Error(err))
		return
	}
	if _, err := m.store.StoreShared(ctx, "agent", m.identity.ID, payload, "json", m.identity.ID); err != nil {
		m.logger.Warn("failed to advertise capabilities", zap.Error(err))
	}
}
