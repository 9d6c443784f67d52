// Package coordinator wires one agent to the event bus, the shared
// memory store, and (optionally) the transport, per spec §4.7:
// emit_event, subscribe_event, broadcast_message, send_message(target),
// and join_swarm. Directed messages prefer in-process dispatch to a
// colocated target and fall through to the transport otherwise;
// broadcasts go out on the swarm's broadcast channel. Delivery is
// best-effort, at-most-once — no acknowledgement layer is implemented.
package coordinator
