package dispatcher

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/backoff"
	"github.com/agentic-qe/fleet/internal/metrics"
	"github.com/agentic-qe/fleet/internal/pool"
	"github.com/agentic-qe/fleet/types"
)

// Handler executes one task, returning its result payload or a
// classified error. Implemented by the concrete agent.
type Handler func(ctx context.Context, task types.Task) (any, error)

// Config configures the Dispatcher (spec §4.6).
type Config struct {
	MaxParallelTasks int
	RetryPolicy      *backoff.Policy
	RetryTable       map[types.ErrorKind]bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks: 4,
		RetryPolicy:      backoff.DefaultPolicy(),
		RetryTable:       types.DefaultRetryTable(),
	}
}

// Dispatcher runs submitted tasks through the priority-queue, batch, and
// retry protocol of spec §4.6.
type Dispatcher struct {
	config  Config
	handler Handler
	pool    *pool.GoroutinePool
	retryer *backoff.Retryer
	metric  *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	queue     priorityQueue
	completed map[string]bool
	cancelled map[string]bool
	cancelFns map[string]context.CancelFunc
	seq       int

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	results chan types.TaskResult
}

// New builds a Dispatcher. handler is invoked once per dispatched task,
// possibly more than once across retries.
func New(config Config, handler Handler, metric *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxParallelTasks <= 0 {
		config.MaxParallelTasks = DefaultConfig().MaxParallelTasks
	}
	if config.RetryPolicy == nil {
		config.RetryPolicy = backoff.DefaultPolicy()
	}
	if config.RetryTable == nil {
		config.RetryTable = types.DefaultRetryTable()
	}

	d := &Dispatcher{
		config: config,
		handler: handler,
		pool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers:  config.MaxParallelTasks,
			QueueSize:   config.MaxParallelTasks * 4,
			IdleTimeout: 60 * time.Second,
		}),
		metric:    metric,
		logger:    logger.With(zap.String("component", "dispatcher")),
		now:       time.Now,
		completed: make(map[string]bool),
		cancelled: make(map[string]bool),
		cancelFns: make(map[string]context.CancelFunc),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		results:   make(chan types.TaskResult, 64),
	}
	d.retryer = backoff.New(config.RetryPolicy, func(err error) bool {
		return config.RetryTable[types.KindOf(err)]
	}, logger)
	return d
}

// Results returns the channel task results are published to. Callers
// should drain it; the dispatcher drops results if the channel is full
// rather than blocking batch execution.
func (d *Dispatcher) Results() <-chan types.TaskResult {
	return d.results
}

// Submit enqueues task, assigning an ID and submission time if unset, and
// returns the task ID.
func (d *Dispatcher) Submit(task types.Task) string {
	d.mu.Lock()
	if task.ID == "" {
		d.seq++
		task.ID = fmt.Sprintf("task-%d", d.seq)
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = d.now()
	}
	heap.Push(&d.queue, &queueItem{task: task})
	d.mu.Unlock()
	d.notify()
	return task.ID
}

// Cancel marks taskID cancelled. A queued task is removed outright; an
// in-flight task observes cancellation cooperatively via its context.
func (d *Dispatcher) Cancel(taskID string) {
	d.mu.Lock()
	d.cancelled[taskID] = true
	if cancel, ok := d.cancelFns[taskID]; ok {
		cancel()
	}
	for i, item := range d.queue {
		if item.task.ID == taskID {
			heap.Remove(&d.queue, i)
			break
		}
	}
	d.mu.Unlock()
}

func (d *Dispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start launches the background dispatch loop, forming and executing
// batches until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop signals the background dispatch loop to exit and waits for it.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
	d.pool.Close()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.doneCh)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.dispatchOneBatch(ctx)
	}
}

// RunUntilDrained forms and executes batches synchronously until the
// queue is empty, returning every result observed. Intended for tests and
// simple one-shot callers; production agents should use Start/Stop.
func (d *Dispatcher) RunUntilDrained(ctx context.Context) []types.TaskResult {
	var all []types.TaskResult
	for {
		d.mu.Lock()
		empty := len(d.queue) == 0
		d.mu.Unlock()
		if empty {
			return all
		}
		all = append(all, d.dispatchOneBatch(ctx)...)
		if ctx.Err() != nil {
			return all
		}
	}
}

func (d *Dispatcher) dispatchOneBatch(ctx context.Context) []types.TaskResult {
	batch := d.formBatch()
	if len(batch) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	resultsMu := sync.Mutex{}
	batchResults := make([]types.TaskResult, 0, len(batch))
	start := d.now()

	for _, item := range batch {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.pool.SubmitWait(ctx, func(taskCtx context.Context) error {
				result := d.execute(taskCtx, item)
				resultsMu.Lock()
				batchResults = append(batchResults, result)
				resultsMu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	wall := d.now().Sub(start)
	d.recordBatch(batch, batchResults, wall)

	for _, r := range batchResults {
		select {
		case d.results <- r:
		default:
			d.logger.Warn("results channel full, dropping task result", zap.String("task_id", r.TaskID))
		}
	}
	return batchResults
}

func (d *Dispatcher) formBatch() []*queueItem {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]*queueItem, 0, len(d.queue))
	for _, item := range d.queue {
		if !d.cancelled[item.task.ID] {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].task.Priority != items[j].task.Priority {
			return items[i].task.Priority > items[j].task.Priority
		}
		return items[i].task.SubmittedAt.Before(items[j].task.SubmittedAt)
	})

	eligible := make([]*queueItem, 0, d.config.MaxParallelTasks)
	for _, item := range items {
		if d.prereqsMetLocked(item.task) {
			eligible = append(eligible, item)
			if len(eligible) >= d.config.MaxParallelTasks {
				break
			}
		}
	}

	if len(eligible) == 0 && len(items) > 0 {
		if d.metric != nil {
			d.metric.RecordCycleOrStuck()
		}
		d.logger.Warn("dependency.cycle_or_stuck: dispatching head of queue despite unmet prerequisites",
			zap.String("task_id", items[0].task.ID))
		eligible = append(eligible, items[0])
	}

	for _, item := range eligible {
		d.removeFromQueueLocked(item.task.ID)
	}
	return eligible
}

func (d *Dispatcher) prereqsMetLocked(task types.Task) bool {
	for _, dep := range task.DependsOn {
		if !d.completed[dep] {
			return false
		}
	}
	return true
}

func (d *Dispatcher) removeFromQueueLocked(taskID string) {
	for i, item := range d.queue {
		if item.task.ID == taskID {
			heap.Remove(&d.queue, i)
			return
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, item *queueItem) types.TaskResult {
	taskCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.cancelled[item.task.ID] {
		d.mu.Unlock()
		cancel()
		d.markCompleted(item.task.ID)
		return types.TaskResult{TaskID: item.task.ID, Status: types.ResultCancelled}
	}
	d.cancelFns[item.task.ID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.cancelFns, item.task.ID)
		d.mu.Unlock()
		cancel()
	}()

	start := d.now()
	var payload any
	var lastErr error
	attempt := 0

	runErr := d.retryer.Do(taskCtx, func() error {
		if attempt > 0 && d.metric != nil {
			d.metric.RecordRetry(item.task.Type, string(types.KindOf(lastErr)))
		}
		attempt++
		if taskCtx.Err() != nil {
			lastErr = types.Wrap(types.ErrCancelled, "task cancelled before dispatch", taskCtx.Err())
			return lastErr
		}
		p, err := d.handler(taskCtx, item.task)
		if err != nil {
			lastErr = err
			return err
		}
		payload = p
		return nil
	})
	retriesConsumed := attempt - 1
	if retriesConsumed < 0 {
		retriesConsumed = 0
	}

	duration := d.now().Sub(start)
	d.markCompleted(item.task.ID)

	var result types.TaskResult
	switch {
	case runErr == nil:
		result = types.TaskResult{TaskID: item.task.ID, Status: types.ResultSuccess, Payload: payload, Duration: duration, RetriesConsumed: retriesConsumed}
	case types.KindOf(lastErr) == types.ErrCancelled:
		result = types.TaskResult{TaskID: item.task.ID, Status: types.ResultCancelled, Duration: duration, ErrorKind: types.ErrCancelled, RetriesConsumed: retriesConsumed}
	default:
		result = types.TaskResult{TaskID: item.task.ID, Status: types.ResultFailure, Duration: duration, ErrorKind: types.KindOf(lastErr), Message: lastErr.Error(), RetriesConsumed: retriesConsumed}
	}

	if d.metric != nil {
		d.metric.RecordTaskResult(item.task.Type, string(result.Status))
	}
	return result
}

// markCompleted records taskID as done regardless of outcome: failed and
// cancelled tasks satisfy downstream dependents the same as a success,
// so one stuck task cannot block the rest of a dependency graph. Not
// confirmed against an original-language reference; revisit if a
// dependent actually needs to distinguish "ran and failed" from
// "never ran".
func (d *Dispatcher) markCompleted(taskID string) {
	d.mu.Lock()
	d.completed[taskID] = true
	d.mu.Unlock()
	d.notify()
}

// recordBatch reports the parallel-efficiency metric of spec §4.6:
// Σ(task_durations) / (wall_time × max_parallelism).
func (d *Dispatcher) recordBatch(batch []*queueItem, results []types.TaskResult, wall time.Duration) {
	if d.metric == nil || wall <= 0 {
		return
	}
	var sum time.Duration
	for _, r := range results {
		sum += r.Duration
	}
	efficiency := float64(sum) / (float64(wall) * float64(d.config.MaxParallelTasks))
	d.metric.RecordBatch(len(batch), efficiency)
}
