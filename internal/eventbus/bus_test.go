package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/types"
)

func TestBus_PublishDeliversInOrderForSameType(t *testing.T) {
	bus := New(DefaultConfig(), zap.NewNop(), nil)

	var mu sync.Mutex
	var seen []uint64
	done := make(chan struct{})

	bus.Subscribe("test.generated", nil, func(e types.Event) {
		mu.Lock()
		seen = append(seen, e.Seq)
		if len(seen) == 5 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		bus.Publish(types.Event{Type: "test.generated"})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestBus_TailWildcardSubscription(t *testing.T) {
	bus := New(DefaultConfig(), zap.NewNop(), nil)

	received := make(chan types.Event, 4)
	bus.Subscribe("security.*", nil, func(e types.Event) { received <- e })

	bus.Publish(types.Event{Type: "security.scan.completed"})
	bus.Publish(types.Event{Type: "coverage.report"})

	select {
	case e := <-received:
		assert.Equal(t, "security.scan.completed", e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected wildcard delivery")
	}

	select {
	case e := <-received:
		t.Fatalf("unexpected delivery for non-matching type: %v", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_FilterPredicateNarrowsDelivery(t *testing.T) {
	bus := New(DefaultConfig(), zap.NewNop(), nil)

	received := make(chan types.Event, 4)
	bus.Subscribe("task.failed", func(e types.Event) bool { return e.Severity == types.SeverityCritical }, func(e types.Event) {
		received <- e
	})

	bus.Publish(types.Event{Type: "task.failed", Severity: types.SeverityLow})
	bus.Publish(types.Event{Type: "task.failed", Severity: types.SeverityCritical})

	select {
	case e := <-received:
		assert.Equal(t, types.SeverityCritical, e.Severity)
	case <-time.After(time.Second):
		t.Fatal("expected filtered delivery")
	}
}

func TestBus_OverflowDropsAndEmitsDiagnostic(t *testing.T) {
	bus := New(Config{SubscriberHighWater: 1}, zap.NewNop(), nil)

	block := make(chan struct{})
	delivered := make(chan types.Event, 8)
	bus.Subscribe("load.test", nil, func(e types.Event) {
		<-block // first delivery blocks the drain goroutine
		delivered <- e
	})

	overflowSeen := make(chan types.Event, 1)
	bus.Subscribe("bus.overflow", nil, func(e types.Event) {
		select {
		case overflowSeen <- e:
		default:
		}
	})

	bus.Publish(types.Event{Type: "load.test"}) // consumed by the blocked drain call
	time.Sleep(20 * time.Millisecond)
	bus.Publish(types.Event{Type: "load.test"}) // fills the 1-slot queue
	bus.Publish(types.Event{Type: "load.test"}) // overflows

	select {
	case <-overflowSeen:
	case <-time.After(time.Second):
		t.Fatal("expected bus.overflow diagnostic")
	}

	close(block)
}

func TestBus_UnsubscribeIsIdempotentAndStopsNewDeliveries(t *testing.T) {
	bus := New(DefaultConfig(), zap.NewNop(), nil)

	received := make(chan types.Event, 4)
	unsub := bus.Subscribe("task.done", nil, func(e types.Event) { received <- e })

	unsub()
	unsub() // idempotent

	bus.Publish(types.Event{Type: "task.done"})

	select {
	case <-received:
		t.Fatal("unexpected delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_ResubscribeDeliversNoDuplicatesFromBeforeSecondSubscribe(t *testing.T) {
	bus := New(DefaultConfig(), zap.NewNop(), nil)

	received := make(chan types.Event, 8)
	unsub := bus.Subscribe("task.done", nil, func(e types.Event) { received <- e })
	bus.Publish(types.Event{Type: "task.done"})
	time.Sleep(20 * time.Millisecond)
	unsub()

	bus.Subscribe("task.done", nil, func(e types.Event) { received <- e })
	bus.Publish(types.Event{Type: "task.done"})

	time.Sleep(50 * time.Millisecond)
	close(received)

	count := 0
	for range received {
		count++
	}
	assert.Equal(t, 2, count)
}
