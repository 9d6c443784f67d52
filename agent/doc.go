// Package agent composes the fleet's per-component packages into one
// runnable agent: lifecycle state, memory/coordinator access, the task
// dispatcher, and the learning loop. It is the composition point named
// in spec §9 — a single Shell struct over injected strategies, not a
// class hierarchy.
package agent
