// Package transport implements the fleet's channel-oriented cross-process
// messaging: a UDP datagram primary with a bounded handshake timeout, and
// an authenticated coder/websocket stream fallback signed with a
// golang-jwt bearer token, guarded by a circuit breaker on reconnect.
// Every payload is wrapped in a {channel, data, timestamp, messageId}
// envelope; observed latency is kept in a bounded ring buffer for the
// running average.
package transport
