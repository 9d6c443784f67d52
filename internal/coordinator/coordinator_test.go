package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/eventbus"
	"github.com/agentic-qe/fleet/types"
)

type inbox struct {
	mu       sync.Mutex
	received []types.AgentMessage
}

func (i *inbox) handler(ctx context.Context, msg types.AgentMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.received = append(i.received, msg)
}

func (i *inbox) all() []types.AgentMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]types.AgentMessage, len(i.received))
	copy(out, i.received)
	return out
}

func TestCoordinator_EmitEventPublishesOnBus(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig(), zap.NewNop(), nil)
	c := New("agent-1", bus, nil, nil, nil, nil, zap.NewNop())

	received := make(chan types.Event, 1)
	c.SubscribeEvent("task.completed", nil, func(e types.Event) { received <- e })

	c.EmitEvent("task.completed", map[string]string{"task_id": "t1"}, types.SeverityLow)

	select {
	case e := <-received:
		assert.Equal(t, "agent-1", e.Source)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestCoordinator_SendMessageDeliversLocallyWhenColocated(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig(), zap.NewNop(), nil)
	registry := NewRegistry()

	var targetInbox inbox
	New("target", bus, nil, nil, registry, targetInbox.handler, zap.NewNop())
	source := New("source", bus, nil, nil, registry, nil, zap.NewNop())

	err := source.SendMessage(context.Background(), "target", "task.assign", map[string]string{"x": "y"})
	require.NoError(t, err)

	received := targetInbox.all()
	require.Len(t, received, 1)
	assert.Equal(t, "source", received[0].SourceAgent)
	assert.Equal(t, "target", received[0].TargetAgent)
}

func TestCoordinator_SendMessageWithoutTransportOrColocationFails(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig(), zap.NewNop(), nil)
	source := New("source", bus, nil, nil, nil, nil, zap.NewNop())

	err := source.SendMessage(context.Background(), "unknown-target", "task.assign", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrDependencyUnavailable, types.KindOf(err))
}

func TestCoordinator_BroadcastMessageReachesSwarmMembersNotSelf(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig(), zap.NewNop(), nil)
	registry := NewRegistry()

	var inboxA, inboxB, inboxSelf inbox
	a := New("a", bus, nil, nil, registry, inboxA.handler, zap.NewNop())
	b := New("b", bus, nil, nil, registry, inboxB.handler, zap.NewNop())
	self := New("self", bus, nil, nil, registry, inboxSelf.handler, zap.NewNop())

	a.JoinSwarm("swarm-1")
	b.JoinSwarm("swarm-1")
	self.JoinSwarm("swarm-1")

	err := self.BroadcastMessage(context.Background(), "status.update", "hello")
	require.NoError(t, err)

	assert.Len(t, inboxA.all(), 1)
	assert.Len(t, inboxB.all(), 1)
	assert.Empty(t, inboxSelf.all())
}

func TestCoordinator_BroadcastWithoutSwarmFails(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig(), zap.NewNop(), nil)
	c := New("solo", bus, nil, nil, nil, nil, zap.NewNop())

	err := c.BroadcastMessage(context.Background(), "status.update", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))
}

func TestCoordinator_CloseUnregistersFromRegistry(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig(), zap.NewNop(), nil)
	registry := NewRegistry()
	c := New("agent-x", bus, nil, nil, registry, nil, zap.NewNop())
	c.Close()

	_, ok := registry.lookup("agent-x")
	assert.False(t, ok)
}
