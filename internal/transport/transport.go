package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentic-qe/fleet/internal/backoff"
	"github.com/agentic-qe/fleet/internal/circuitbreaker"
	"github.com/agentic-qe/fleet/internal/metrics"
	"github.com/agentic-qe/fleet/internal/tlsutil"
	"github.com/agentic-qe/fleet/types"
)

// Transport is the fleet's datagram-first, stream-fallback channel
// abstraction (spec §4.3). One Transport handles one peer connection;
// a coordinator holds one per configured peer.
type Transport struct {
	config  Config
	logger  *zap.Logger
	metric  *metrics.Collector
	breaker *circuitbreaker.Breaker
	retryer *backoff.Retryer
	limiter *rate.Limiter

	// httpClient dials the stream fallback's TLS handshake when
	// config.TLSEnabled; nil otherwise so websocket.Dial falls back to
	// http.DefaultClient for plain ws://.
	httpClient *http.Client

	mode   atomic.Value // Mode
	latency latencyRing

	udpConn *net.UDPConn
	wsConn  *websocket.Conn

	handlersMu sync.RWMutex
	handlers   map[string][]HandlerFunc

	closed    atomic.Bool
	closeOnce sync.Once
	stopKeep  chan struct{}
	keepDone  chan struct{}
}

// HandlerFunc processes one received payload on a channel.
type HandlerFunc func(channel string, data any)

// New builds a Transport. metric may be nil.
func New(config Config, logger *zap.Logger, metric *metrics.Collector) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DatagramDialTimeout <= 0 {
		config.DatagramDialTimeout = DefaultConfig().DatagramDialTimeout
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultConfig().KeepAliveInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}

	t := &Transport{
		config:   config,
		logger:   logger.With(zap.String("component", "transport")),
		metric:   metric,
		handlers: make(map[string][]HandlerFunc),
		stopKeep: make(chan struct{}),
		keepDone: make(chan struct{}),
	}
	t.mode.Store(ModeUninitialized)

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		t.logger.Info("transport breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
	}
	t.breaker = circuitbreaker.New(&breakerCfg, t.logger)

	policy := backoff.DefaultPolicy()
	policy.MaxRetries = config.MaxRetries
	t.retryer = backoff.New(&policy, backoff.RetryableFromTable(nil), t.logger)

	if config.SendRateLimit > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(config.SendRateLimit), config.SendBurst)
	}

	if config.TLSEnabled {
		t.httpClient = tlsutil.SecureHTTPClient(0)
	}

	return t
}

// Mode reports the transport's active channel.
func (t *Transport) Mode() Mode {
	return t.mode.Load().(Mode)
}

// AverageLatency reports the running average of observed envelope
// latencies over the last 100 samples.
func (t *Transport) AverageLatency() time.Duration {
	return t.latency.average()
}

// Initialize attempts the datagram primary first with a bounded handshake
// timeout; on timeout or network error it falls back to the
// authenticated stream when enabled.
func (t *Transport) Initialize(ctx context.Context, endpoint string, agentID string) error {
	if err := t.initDatagram(ctx, endpoint); err == nil {
		t.mode.Store(ModeDatagram)
		go t.readDatagramLoop()
		go t.keepAliveLoop(endpoint, agentID)
		if t.metric != nil {
			t.metric.SetActiveMode(string(ModeDatagram), true)
		}
		return nil
	} else if !t.config.EnableStreamFallback {
		return types.Wrap(types.ErrTransientNetwork, "datagram handshake failed, stream fallback disabled", err)
	}

	if err := t.initStream(ctx, endpoint, agentID); err != nil {
		return types.Wrap(types.ErrTransientNetwork, "stream fallback failed", err)
	}
	t.mode.Store(ModeStream)
	go t.readStreamLoop()
	go t.keepAliveLoop(endpoint, agentID)
	if t.metric != nil {
		t.metric.SetActiveMode(string(ModeStream), true)
	}
	return nil
}

func (t *Transport) initDatagram(ctx context.Context, endpoint string) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.config.DatagramDialTimeout)
	defer cancel()

	raddr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return err
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte("HELLO")); err != nil {
		conn.Close()
		return err
	}

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil || string(buf[:n]) != "ACK" {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected handshake response")
		}
		return err
	}

	_ = conn.SetDeadline(time.Time{})
	t.udpConn = conn
	return nil
}

func (t *Transport) initStream(ctx context.Context, endpoint, agentID string) error {
	scheme := "ws"
	if t.config.TLSEnabled {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: endpoint, Path: t.config.StreamPath}

	var header http.Header
	if t.config.JWTSecret != "" {
		token, err := signStreamToken(t.config.JWTSecret, agentID)
		if err != nil {
			return err
		}
		header = http.Header{"Authorization": []string{"Bearer " + token}}
	}

	conn, err := circuitbreaker.CallWithResult(t.breaker, ctx, func() (*websocket.Conn, error) {
		c, _, derr := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
			HTTPClient: t.httpClient,
			HTTPHeader: header,
		})
		return c, derr
	})
	if err != nil {
		return err
	}

	t.wsConn = conn
	return nil
}

// Send wraps payload in an envelope and writes it over the active mode.
func (t *Transport) Send(ctx context.Context, channel string, payload any) error {
	if t.closed.Load() {
		return types.NewError(types.ErrInternal, "transport is closed")
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return types.Wrap(types.ErrCancelled, "send rate limit wait cancelled", err)
		}
	}

	envelope := newEnvelope(channel, payload)
	raw, err := envelope.Marshal()
	if err != nil {
		return types.Wrap(types.ErrValidation, "marshal envelope", err)
	}

	switch t.Mode() {
	case ModeDatagram:
		if _, err := t.udpConn.Write(raw); err != nil {
			return types.Wrap(types.ErrTransientNetwork, "datagram send failed", err)
		}
	case ModeStream:
		if err := t.wsConn.Write(ctx, websocket.MessageText, raw); err != nil {
			return types.Wrap(types.ErrTransientNetwork, "stream send failed", err)
		}
	default:
		return types.NewError(types.ErrInternal, "transport not initialized")
	}
	return nil
}

// Subscribe registers handler for deliveries on channel.
func (t *Transport) Subscribe(channel string, handler HandlerFunc) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.handlers[channel] = append(t.handlers[channel], handler)
}

func (t *Transport) dispatch(envelope Envelope) {
	t.latency.record(envelope.ObservedLatency(time.Now()))
	if t.metric != nil {
		t.metric.RecordLatency(envelope.ObservedLatency(time.Now()))
	}

	t.handlersMu.RLock()
	hs := append([]HandlerFunc(nil), t.handlers[envelope.Channel]...)
	t.handlersMu.RUnlock()

	for _, h := range hs {
		h(envelope.Channel, envelope.Data)
	}
}

func (t *Transport) readDatagramLoop() {
	buf := make([]byte, 64*1024)
	for {
		if t.closed.Load() {
			return
		}
		n, err := t.udpConn.Read(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.logger.Warn("datagram read failed", zap.Error(err))
			go t.reconnect()
			return
		}
		envelope, err := UnmarshalEnvelope(buf[:n])
		if err != nil {
			t.logger.Warn("dropped malformed envelope", zap.Error(err))
			continue
		}
		t.dispatch(envelope)
	}
}

func (t *Transport) readStreamLoop() {
	for {
		if t.closed.Load() {
			return
		}
		_, raw, err := t.wsConn.Read(context.Background())
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.logger.Warn("stream read failed", zap.Error(err))
			go t.reconnect()
			return
		}
		envelope, err := UnmarshalEnvelope(raw)
		if err != nil {
			t.logger.Warn("dropped malformed envelope", zap.Error(err))
			continue
		}
		t.dispatch(envelope)
	}
}

// reconnect retries the active mode's connection with exponential backoff,
// bounded by config.MaxRetries, through the circuit breaker.
func (t *Transport) reconnect() {
	if t.closed.Load() {
		return
	}
	if t.metric != nil {
		t.metric.RecordReconnect("attempt")
	}

	endpoint := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
	ctx := context.Background()

	err := t.retryer.Do(ctx, func() error {
		return t.breaker.Call(ctx, func() error {
			switch t.Mode() {
			case ModeDatagram:
				return t.initDatagram(ctx, endpoint)
			case ModeStream:
				return t.initStream(ctx, endpoint, "")
			default:
				return types.NewError(types.ErrInternal, "no active mode to reconnect")
			}
		})
	})
	if err != nil {
		t.logger.Error("transport reconnect exhausted retries", zap.Error(err))
		return
	}

	switch t.Mode() {
	case ModeDatagram:
		go t.readDatagramLoop()
	case ModeStream:
		go t.readStreamLoop()
	}
}

func (t *Transport) keepAliveLoop(endpoint, agentID string) {
	ticker := time.NewTicker(t.config.KeepAliveInterval)
	defer ticker.Stop()
	defer close(t.keepDone)

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.config.KeepAliveInterval)
			err := t.Send(ctx, "transport.keepalive", nil)
			cancel()
			if err != nil {
				t.logger.Warn("keep-alive failed, triggering reconnect", zap.Error(err))
				go t.reconnect()
			}
		case <-t.stopKeep:
			return
		}
	}
}

// Close shuts the transport down, stopping its read and keep-alive loops.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.stopKeep)

		if t.udpConn != nil {
			err = t.udpConn.Close()
		}
		if t.wsConn != nil {
			closeErr := t.wsConn.Close(websocket.StatusNormalClosure, "transport closed")
			if err == nil {
				err = closeErr
			}
		}
	})
	return err
}
