// Package memorystore implements the fleet's namespaced key/value memory
// store: per-partition locking, lazy TTL expiry, an append-only events
// partition, and a store_shared convention for capability advertisements.
// Two backends share the Store interface: InMemoryStore for local
// development and tests, and SQLStore for durable, cross-restart storage.
// An optional SharedCache mirrors the "fleet" partition onto Redis so a
// multi-process fleet can read capability advertisements without a SQL
// round trip on every poll.
package memorystore
