// Package ctxkeys holds typed context keys for carrying task, agent and
// swarm identity on a context.Context, so a deeply nested handler can
// recover them without threading extra parameters. The dispatcher and
// coordinator do not attach these keys to the contexts they create.
package ctxkeys

import "context"

type contextKey string

const (
	taskIDKey  contextKey = "task_id"
	agentIDKey contextKey = "agent_id"
	swarmIDKey contextKey = "swarm_id"
)

// WithTaskID attaches a task ID to ctx.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskID recovers the task ID attached by WithTaskID.
func TaskID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(taskIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAgentID attaches an agent ID to ctx.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentID recovers the agent ID attached by WithAgentID.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(agentIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSwarmID attaches a swarm ID to ctx.
func WithSwarmID(ctx context.Context, swarmID string) context.Context {
	return context.WithValue(ctx, swarmIDKey, swarmID)
}

// SwarmID recovers the swarm ID attached by WithSwarmID.
func SwarmID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(swarmIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
