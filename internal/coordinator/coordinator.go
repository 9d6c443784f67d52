package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/eventbus"
	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/internal/transport"
	"github.com/agentic-qe/fleet/types"
)

// MessageHandler processes one inbound directed or broadcast message.
type MessageHandler func(ctx context.Context, msg types.AgentMessage)

// Coordinator wires one agent to the bus, the memory store, and
// (optionally) the transport (spec §4.7).
type Coordinator struct {
	agentID   string
	bus       *eventbus.Bus
	store     memorystore.Store
	transport *transport.Transport // nil disables remote delivery
	registry  *Registry
	onMessage MessageHandler
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	swarmID string
}

// New builds a Coordinator for agentID and registers it with registry so
// other colocated coordinators can reach it without the transport.
// transport may be nil (no remote delivery); onMessage may be nil (inbound
// messages are silently dropped).
func New(agentID string, bus *eventbus.Bus, store memorystore.Store, tr *transport.Transport, registry *Registry, onMessage MessageHandler, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		agentID:   agentID,
		bus:       bus,
		store:     store,
		transport: tr,
		registry:  registry,
		onMessage: onMessage,
		logger:    logger.With(zap.String("component", "coordinator"), zap.String("agent_id", agentID)),
		now:       time.Now,
	}

	if registry != nil {
		registry.register(agentID, c)
	}
	if tr != nil {
		tr.Subscribe("agent/"+agentID, c.handleTransportDelivery)
	}
	return c
}

// SwarmID returns the swarm this coordinator last joined, or "" if none.
func (c *Coordinator) SwarmID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.swarmID
}

// JoinSwarm joins swarmID (or leaves any swarm if swarmID is empty),
// subscribing to its broadcast channel on the transport when configured.
func (c *Coordinator) JoinSwarm(swarmID string) {
	c.mu.Lock()
	c.swarmID = swarmID
	c.mu.Unlock()

	if c.transport != nil && swarmID != "" {
		c.transport.Subscribe("broadcast/"+swarmID, c.handleTransportDelivery)
	}
}

// Close unregisters the coordinator from its registry.
func (c *Coordinator) Close() {
	if c.registry != nil {
		c.registry.unregister(c.agentID)
	}
}

// EmitEvent publishes an event on the bus, tagged with this agent as
// source.
func (c *Coordinator) EmitEvent(eventType string, payload any, severity types.Severity) types.Event {
	return c.bus.Publish(types.Event{
		Type:     eventType,
		Source:   c.agentID,
		Payload:  payload,
		Severity: severity,
	})
}

// SubscribeEvent subscribes handler to events matching eventType
// (exact or tail-wildcard) and filter.
func (c *Coordinator) SubscribeEvent(eventType string, filter eventbus.FilterFunc, handler eventbus.HandlerFunc) func() {
	return c.bus.Subscribe(eventType, filter, handler)
}

// SendMessage delivers a directed message to targetAgentID: in-process
// if colocated (registered in the same Registry), otherwise over the
// transport using channel "agent/<target_id>". Delivery is best-effort,
// at-most-once.
func (c *Coordinator) SendMessage(ctx context.Context, targetAgentID string, kind types.MessageKind, payload any) error {
	msg := types.AgentMessage{
		SourceAgent: c.agentID,
		TargetAgent: targetAgentID,
		Channel:     "agent/" + targetAgentID,
		Kind:        kind,
		Payload:     payload,
		Timestamp:   c.now(),
	}

	if c.registry != nil {
		if target, ok := c.registry.lookup(targetAgentID); ok {
			target.deliverLocally(ctx, msg)
			return nil
		}
	}

	if c.transport == nil {
		return types.NewError(types.ErrDependencyUnavailable, "no transport configured for remote delivery to "+targetAgentID)
	}
	return c.transport.Send(ctx, msg.Channel, msg)
}

// BroadcastMessage sends payload to every member of the coordinator's
// current swarm: colocated members are delivered in-process, and the
// transport (if configured) is also used so remote swarm members see it.
func (c *Coordinator) BroadcastMessage(ctx context.Context, kind types.MessageKind, payload any) error {
	swarmID := c.SwarmID()
	if swarmID == "" {
		return types.NewError(types.ErrValidation, "coordinator has not joined a swarm")
	}

	msg := types.AgentMessage{
		SourceAgent: c.agentID,
		TargetAgent: types.BroadcastTarget,
		Channel:     "broadcast/" + swarmID,
		Kind:        kind,
		Payload:     payload,
		Timestamp:   c.now(),
	}

	if c.registry != nil {
		for _, member := range c.registry.membersOfSwarm(swarmID) {
			if member.agentID == c.agentID {
				continue
			}
			member.deliverLocally(ctx, msg)
		}
	}

	if c.transport == nil {
		return nil
	}
	if err := c.transport.Send(ctx, msg.Channel, msg); err != nil {
		c.logger.Warn("broadcast transport delivery failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *Coordinator) deliverLocally(ctx context.Context, msg types.AgentMessage) {
	if c.onMessage == nil {
		return
	}
	c.onMessage(ctx, msg)
}

// handleTransportDelivery adapts the transport's generic HandlerFunc to
// an AgentMessage, round-tripping through JSON since the transport
// decodes envelope payloads into a generic map[string]any.
func (c *Coordinator) handleTransportDelivery(channel string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("failed to re-marshal transport payload", zap.String("channel", channel), zap.Error(err))
		return
	}
	var msg types.AgentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("failed to decode transport payload as AgentMessage", zap.String("channel", channel), zap.Error(err))
		return
	}
	if msg.SourceAgent == c.agentID {
		return // our own broadcast, looped back by a shared transport peer
	}
	c.deliverLocally(context.Background(), msg)
}
