package types

import "time"

// Event is an immutable notification published on the event bus.
type Event struct {
	Type     string   `json:"type"`
	Payload  any      `json:"payload"`
	Severity Severity `json:"severity"`
	Source   string   `json:"source"` // publishing agent ID

	Seq       uint64    `json:"seq"` // monotonic, assigned at publication
	Timestamp time.Time `json:"timestamp"`
}

// MessageKind loosely tags an AgentMessage's intent; agents interpret the
// payload according to the kind they expect on a given channel.
type MessageKind string

// BroadcastTarget is the wildcard TargetAgent value used for swarm-wide
// messages.
const BroadcastTarget = "*"

// AgentMessage is a directed envelope between two agents, or a broadcast
// when TargetAgent is BroadcastTarget.
type AgentMessage struct {
	SourceAgent string      `json:"source_agent"`
	TargetAgent string      `json:"target_agent"`
	Channel     string      `json:"channel"`
	Kind        MessageKind `json:"kind"`
	Payload     any         `json:"payload"`
	Timestamp   time.Time   `json:"timestamp"`
}
