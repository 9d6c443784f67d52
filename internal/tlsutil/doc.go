// Package tlsutil provides the hardened TLS configuration shared by the
// transport's authenticated-stream fallback and any other component that
// dials out over TLS.
package tlsutil
