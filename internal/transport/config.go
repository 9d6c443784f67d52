package transport

import "time"

// Mode reports which channel the transport is actively using.
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModeDatagram      Mode = "datagram"
	ModeStream        Mode = "stream"
)

// Config configures a Transport (spec §6).
type Config struct {
	Host                 string
	Port                 int
	EnableStreamFallback bool
	DatagramDialTimeout  time.Duration
	KeepAliveInterval    time.Duration
	MaxRetries           int

	// StreamPath is the HTTP path the websocket fallback upgrades on.
	StreamPath string
	// JWTSecret signs the bearer token used to authenticate the stream
	// handshake. Empty sends the handshake without an Authorization
	// header (local/dev use).
	JWTSecret string
	// TLSEnabled selects wss:// for the stream fallback.
	TLSEnabled bool

	// SendRateLimit caps outbound envelopes per second; 0 disables
	// limiting. SendBurst is the token bucket's burst size.
	SendRateLimit float64
	SendBurst     int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:                 "127.0.0.1",
		Port:                 4700,
		EnableStreamFallback: true,
		DatagramDialTimeout:  500 * time.Millisecond,
		KeepAliveInterval:    10 * time.Second,
		MaxRetries:           5,
		StreamPath:           "/transport/stream",
		SendRateLimit:        200,
		SendBurst:            50,
	}
}
