// Package circuitbreaker guards the transport's authenticated-stream
// fallback against hammering an unreachable peer: repeated connect
// failures trip the breaker open, a reset timeout allows one half-open
// probe, and a successful probe closes it again.
package circuitbreaker
