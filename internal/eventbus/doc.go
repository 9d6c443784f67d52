// Package eventbus implements the fleet's in-process typed publish/
// subscribe bus: tail-wildcard subscriptions, per-subscriber bounded
// delivery queues with a high-water mark and bus.overflow diagnostic, and
// a monotonic per-publication sequence number. The publisher never
// blocks; a subscriber that falls behind its high-water mark has further
// deliveries dropped rather than stalling the bus.
package eventbus
