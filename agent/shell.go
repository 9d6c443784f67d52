package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/coordinator"
	"github.com/agentic-qe/fleet/internal/curator"
	"github.com/agentic-qe/fleet/internal/dispatcher"
	"github.com/agentic-qe/fleet/internal/eventbus"
	"github.com/agentic-qe/fleet/internal/learning"
	"github.com/agentic-qe/fleet/internal/lifecycle"
	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/internal/metrics"
	"github.com/agentic-qe/fleet/internal/pattern"
	"github.com/agentic-qe/fleet/internal/transport"
	"github.com/agentic-qe/fleet/types"
)

// TaskHandler implements one task type in a Shell's dispatch table. Its
// signature matches internal/dispatcher.Handler so PerformTask can be
// handed directly to dispatcher.New.
type TaskHandler func(ctx context.Context, task types.Task) (any, error)

// Strategies bundles the four injected collaborators a Shell composes,
// per spec §9's "no subtype polymorphism; all variation through injected
// strategies" design note.
type Strategies struct {
	Lifecycle   *lifecycle.Manager
	Coordinator *coordinator.Coordinator
	Dispatcher  *dispatcher.Dispatcher
	Learning    *learning.Loop
	Curator     *curator.Curator
}

// Options configures NewShell. Store, Bus and Patterns are required;
// Metric may be nil to disable metrics, and Transport and Registry may be
// nil for a colocated-only agent.
type Options struct {
	Identity   types.AgentIdentity
	TaskKind   string
	Store      memorystore.Store
	Bus        *eventbus.Bus
	Patterns   *pattern.Store
	Metric     *metrics.Collector
	Transport  *transport.Transport
	Registry   *coordinator.Registry
	Logger     *zap.Logger
	Dispatcher dispatcher.Config
	Learning   learning.Config
	Curator    curator.Config
}

// Shell is one runnable fleet agent: lifecycle state, memory/coordinator
// access, task dispatch, and the learning loop, composed over a
// task-kind tag and a PerformTask dispatch table (spec §9, "Agent
// Shell").
type Shell struct {
	identity types.AgentIdentity
	taskKind string
	store    memorystore.Store
	logger   *zap.Logger

	Strategies

	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewShell wires the four strategy objects over opts and returns a Shell
// ready to accept handler registrations. The dispatcher is not started;
// call Start to begin consuming submitted tasks.
func NewShell(opts Options) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("agent_id", opts.Identity.ID))

	s := &Shell{
		identity: opts.Identity,
		taskKind: opts.TaskKind,
		store:    opts.Store,
		logger:   logger,
		handlers: make(map[string]TaskHandler),
	}

	s.Lifecycle = lifecycle.New(opts.Identity, opts.Store, opts.Bus, opts.Metric, logger)
	s.Learning = learning.New(opts.Learning, opts.Patterns, opts.Store, opts.Bus, opts.Metric, logger)
	s.Curator = curator.New(opts.Curator, opts.Patterns, opts.Store, s.Learning, logger)
	s.Dispatcher = dispatcher.New(opts.Dispatcher, s.PerformTask, opts.Metric, logger)
	s.Coordinator = coordinator.New(opts.Identity.ID, opts.Bus, opts.Store, opts.Transport, opts.Registry, s.handleAgentMessage, logger)

	return s
}

// RegisterHandler binds a TaskHandler to a task type. Re-registering a
// type replaces its handler.
func (s *Shell) RegisterHandler(taskType string, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = handler
}

// Identity returns the shell's stable agent identity.
func (s *Shell) Identity() types.AgentIdentity { return s.identity }

// TaskKind returns the free-form tag distinguishing this shell's
// concrete role within the fleet.
func (s *Shell) TaskKind() string { return s.taskKind }

// Start begins the dispatcher's background batch loop and transitions
// the shell through initializing to idle.
func (s *Shell) Start(ctx context.Context) error {
	if err := s.Lifecycle.Initialize(ctx, func(context.Context) error { return nil }); err != nil {
		return err
	}
	s.Dispatcher.Start(ctx)
	return nil
}

// Stop halts the dispatcher loop and runs the lifecycle's terminate
// sequence, closing the coordinator's registry entry.
func (s *Shell) Stop(ctx context.Context) error {
	s.Dispatcher.Stop()
	s.Coordinator.Close()
	return s.Lifecycle.Terminate(ctx, func(context.Context) error { return nil })
}

// Submit enqueues task on the dispatcher, returning its assigned ID.
func (s *Shell) Submit(task types.Task) string {
	return s.Dispatcher.Submit(task)
}

// PerformTask is the shell's dispatch-table entry point: it looks up the
// handler registered for task.Type, runs it bracketed by a busy/idle
// lifecycle transition, and folds the outcome into the learning loop as
// an ExecutionEvent. Its signature matches dispatcher.Handler, so it is
// passed directly to dispatcher.New in NewShell.
func (s *Shell) PerformTask(ctx context.Context, task types.Task) (any, error) {
	s.mu.RLock()
	handler, ok := s.handlers[task.Type]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrValidation, "no handler registered for task type: "+task.Type)
	}

	if err := s.Lifecycle.MarkBusy(ctx); err != nil {
		s.logger.Warn("mark busy failed", zap.Error(err))
	}
	defer func() {
		if err := s.Lifecycle.MarkIdle(ctx); err != nil {
			s.logger.Warn("mark idle failed", zap.Error(err))
		}
	}()

	start := time.Now()
	result, err := handler(ctx, task)
	duration := time.Since(start)

	event := types.ExecutionEvent{
		TaskID:    task.ID,
		TaskType:  task.Type,
		Success:   err == nil,
		Duration:  duration,
		Timestamp: time.Now(),
	}
	if err != nil {
		event.ErrorKind = types.KindOf(err)
	}
	s.Learning.RecordExecution(ctx, event)

	return result, err
}

// handleAgentMessage is the coordinator's default inbound-message
// handler: it logs delivery. Concrete agents that need to act on
// messages should wrap NewShell's Coordinator with their own
// handler before composing a Shell, or poll SubscribeEvent instead.
func (s *Shell) handleAgentMessage(ctx context.Context, msg types.AgentMessage) {
	s.logger.Debug("agent message received",
		zap.String("from", msg.SourceAgent),
		zap.String("kind", string(msg.Kind)))
}
