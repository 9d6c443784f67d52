package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-qe/fleet/internal/metrics"
	"github.com/agentic-qe/fleet/types"
)

// FilterFunc lets a subscriber further narrow which events it receives
// beyond the event-type match.
type FilterFunc func(types.Event) bool

// HandlerFunc processes one delivered event. A handler that suspends must
// not do so while holding the bus's internal lock; the bus never calls a
// handler while holding it, so suspending inside a handler is safe as far
// as the bus is concerned, but it does delay that subscriber's own queue
// from draining.
type HandlerFunc func(types.Event)

// Config configures the Bus (spec §6).
type Config struct {
	// SubscriberHighWater is the pending-delivery cap per subscriber
	// before further deliveries are dropped.
	SubscriberHighWater int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{SubscriberHighWater: 1000}
}

type subscription struct {
	id        uint64
	eventType string // may end in "*" for a tail wildcard
	filter    FilterFunc
	handler   HandlerFunc

	queue   chan types.Event
	done    chan struct{}
	cancel  sync.Once
}

// Bus is the in-process event bus.
type Bus struct {
	config Config
	logger *zap.Logger
	metric *metrics.Collector

	mu        sync.RWMutex
	subs      map[uint64]*subscription
	byType    map[string][]uint64 // exact type -> subscription ids
	wildcards []uint64            // tail-wildcard subscription ids

	seq    uint64 // atomic
	nextID uint64 // atomic
}

// New builds a Bus. metric may be nil, in which case overflow/publish
// counts are not recorded.
func New(config Config, logger *zap.Logger, metric *metrics.Collector) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SubscriberHighWater <= 0 {
		config.SubscriberHighWater = DefaultConfig().SubscriberHighWater
	}
	return &Bus{
		config: config,
		logger: logger.With(zap.String("component", "eventbus")),
		metric: metric,
		subs:   make(map[uint64]*subscription),
		byType: make(map[string][]uint64),
	}
}

// Subscribe registers handler for eventType (exact or tail-wildcard, e.g.
// "security.*"), optionally narrowed by filter. It returns an
// unsubscribe function, idempotent to call more than once.
func (b *Bus) Subscribe(eventType string, filter FilterFunc, handler HandlerFunc) func() {
	id := atomic.AddUint64(&b.nextID, 1)
	sub := &subscription{
		id:        id,
		eventType: eventType,
		filter:    filter,
		handler:   handler,
		queue:     make(chan types.Event, b.config.SubscriberHighWater),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[id] = sub
	if strings.HasSuffix(eventType, "*") {
		b.wildcards = append(b.wildcards, id)
	} else {
		b.byType[eventType] = append(b.byType[eventType], id)
	}
	b.mu.Unlock()

	go b.drain(sub)

	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, id)
	if strings.HasSuffix(sub.eventType, "*") {
		b.wildcards = removeID(b.wildcards, id)
	} else {
		b.byType[sub.eventType] = removeID(b.byType[sub.eventType], id)
	}
	b.mu.Unlock()

	sub.cancel.Do(func() { close(sub.done) })
}

func removeID(ids []uint64, target uint64) []uint64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// drain runs in its own goroutine per subscriber, calling handler
// synchronously for each queued event so subscribers never observe
// cross-type ordering but always observe publication order for their own
// type.
func (b *Bus) drain(sub *subscription) {
	for {
		select {
		case event, ok := <-sub.queue:
			if !ok {
				return
			}
			if sub.filter == nil || sub.filter(event) {
				sub.handler(event)
			}
		case <-sub.done:
			// Drain whatever is already queued before exiting so handlers
			// in flight at unsubscribe complete, per spec §4.2.
			for {
				select {
				case event, ok := <-sub.queue:
					if !ok {
						return
					}
					if sub.filter == nil || sub.filter(event) {
						sub.handler(event)
					}
				default:
					return
				}
			}
		}
	}
}

// Publish assigns a monotonic sequence number and delivers event to every
// matching, non-overflowing subscriber. Publish never blocks: a full
// subscriber queue results in a dropped delivery and a bus.overflow event
// instead of back-pressuring the publisher.
func (b *Bus) Publish(event types.Event) types.Event {
	event.Seq = atomic.AddUint64(&b.seq, 1)

	b.mu.RLock()
	ids := make([]uint64, 0, 4)
	ids = append(ids, b.byType[event.Type]...)
	for _, wid := range b.wildcards {
		if sub, ok := b.subs[wid]; ok && strings.HasPrefix(event.Type, strings.TrimSuffix(sub.eventType, "*")) {
			ids = append(ids, wid)
		}
	}
	targets := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := b.subs[id]; ok {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if b.metric != nil {
		b.metric.RecordPublish(event.Type)
	}

	for _, sub := range targets {
		select {
		case sub.queue <- event:
		default:
			b.recordOverflow(event, sub)
		}
	}

	return event
}

// PublishAsync fans deliveries out via errgroup, matching publishers that
// want to wait for "delivered-or-dropped" across all matching
// subscribers without serializing the channel sends.
func (b *Bus) PublishAsync(event types.Event) types.Event {
	event.Seq = atomic.AddUint64(&b.seq, 1)

	b.mu.RLock()
	ids := append([]uint64(nil), b.byType[event.Type]...)
	for _, wid := range b.wildcards {
		if sub, ok := b.subs[wid]; ok && strings.HasPrefix(event.Type, strings.TrimSuffix(sub.eventType, "*")) {
			ids = append(ids, wid)
		}
	}
	targets := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := b.subs[id]; ok {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if b.metric != nil {
		b.metric.RecordPublish(event.Type)
	}

	var g errgroup.Group
	for _, sub := range targets {
		sub := sub
		g.Go(func() error {
			select {
			case sub.queue <- event:
			default:
				b.recordOverflow(event, sub)
			}
			return nil
		})
	}
	_ = g.Wait()

	return event
}

func (b *Bus) recordOverflow(event types.Event, sub *subscription) {
	if b.metric != nil {
		b.metric.RecordDrop(event.Type)
	}
	b.logger.Warn("subscriber overflow, dropping delivery",
		zap.String("event_type", event.Type), zap.Uint64("subscriber_id", sub.id))

	overflow := types.Event{
		Type:     "bus.overflow",
		Severity: types.SeverityMedium,
		Source:   "eventbus",
		Payload: map[string]any{
			"dropped_event_type": event.Type,
			"subscriber_id":      sub.id,
		},
	}
	overflow.Seq = atomic.AddUint64(&b.seq, 1)
	// Best-effort local delivery to anyone subscribed to bus.overflow or a
	// matching wildcard; never recurses into recordOverflow again since an
	// overflow event dropping itself is simply swallowed.
	b.mu.RLock()
	diagTargets := append([]uint64(nil), b.byType["bus.overflow"]...)
	for _, wid := range b.wildcards {
		if s, ok := b.subs[wid]; ok && strings.HasPrefix("bus.overflow", strings.TrimSuffix(s.eventType, "*")) {
			diagTargets = append(diagTargets, wid)
		}
	}
	b.mu.RUnlock()
	for _, id := range diagTargets {
		b.mu.RLock()
		s, ok := b.subs[id]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		select {
		case s.queue <- overflow:
		default:
		}
	}
}

// SubscriberCount reports how many active subscriptions exist, for tests
// and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
