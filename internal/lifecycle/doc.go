// Package lifecycle implements the agent state machine: the legal
// transition graph between uninitialized, initializing, idle, busy,
// paused, terminating, terminated and failed, plus the one-time
// capability advertisement written to the shared memory store on first
// entry to idle.
package lifecycle
