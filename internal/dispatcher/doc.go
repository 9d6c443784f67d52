// Package dispatcher implements the task dispatcher of spec §4.6: a
// priority queue, batch formation respecting declared prerequisites
// (with a stuck-progress fallback), bounded-concurrency batch execution,
// and a configurable retry policy keyed off an error-kind rule table.
package dispatcher
