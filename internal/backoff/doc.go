// Package backoff provides exponential-backoff retry execution shared by
// the dispatcher (task retries) and the transport (reconnect attempts).
// Both use the same policy shape: an initial delay, a multiplier, a cap,
// and optional jitter to avoid thundering-herd reconnects/retries.
package backoff
