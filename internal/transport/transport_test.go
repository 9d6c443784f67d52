package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeUDPPeer answers the HELLO/ACK handshake and echoes subsequent
// datagrams back, standing in for a peer fleet's transport.
func fakeUDPPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) == "HELLO" {
				_, _ = conn.WriteToUDP([]byte("ACK"), addr)
				continue
			}
			_, _ = conn.WriteToUDP(buf[:n], addr)
		}
	}()

	return conn
}

func TestTransport_InitializeOverDatagram(t *testing.T) {
	peer := fakeUDPPeer(t)
	defer peer.Close()

	cfg := DefaultConfig()
	cfg.EnableStreamFallback = false
	cfg.DatagramDialTimeout = time.Second

	tr := New(cfg, zap.NewNop(), nil)
	defer tr.Close()

	err := tr.Initialize(context.Background(), peer.LocalAddr().String(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, ModeDatagram, tr.Mode())
}

func TestTransport_SendBeforeInitializeFails(t *testing.T) {
	tr := New(DefaultConfig(), zap.NewNop(), nil)
	defer tr.Close()

	err := tr.Send(context.Background(), "agent/worker-1", "payload")
	assert.Error(t, err)
}

func TestTransport_DatagramHandshakeTimeoutWithoutFallbackFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableStreamFallback = false
	cfg.DatagramDialTimeout = 50 * time.Millisecond

	tr := New(cfg, zap.NewNop(), nil)
	defer tr.Close()

	// An address nobody is listening on: the handshake read will time out.
	blackhole, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	addr := blackhole.LocalAddr().String()
	blackhole.Close()

	err = tr.Initialize(context.Background(), addr, "agent-1")
	assert.Error(t, err)
}

func TestTransport_SendRespectsRateLimit(t *testing.T) {
	peer := fakeUDPPeer(t)
	defer peer.Close()

	cfg := DefaultConfig()
	cfg.EnableStreamFallback = false
	cfg.DatagramDialTimeout = time.Second
	cfg.SendRateLimit = 5
	cfg.SendBurst = 1

	tr := New(cfg, zap.NewNop(), nil)
	defer tr.Close()

	require.NoError(t, tr.Initialize(context.Background(), peer.LocalAddr().String(), "agent-1"))

	require.NoError(t, tr.Send(context.Background(), "agent/worker-1", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, "agent/worker-1", "second")
	assert.Error(t, err)
}

func TestTransport_ZeroRateLimitDisablesLimiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendRateLimit = 0

	tr := New(cfg, zap.NewNop(), nil)
	defer tr.Close()
	assert.Nil(t, tr.limiter)
}

func TestTransport_TLSEnabledBuildsHardenedHTTPClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLSEnabled = true

	tr := New(cfg, zap.NewNop(), nil)
	defer tr.Close()

	require.NotNil(t, tr.httpClient)
	transport, ok := tr.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, transport.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
}

func TestTransport_TLSDisabledLeavesHTTPClientNil(t *testing.T) {
	tr := New(DefaultConfig(), zap.NewNop(), nil)
	defer tr.Close()
	assert.Nil(t, tr.httpClient)
}

func TestSignAndVerifyStreamToken(t *testing.T) {
	token, err := signStreamToken("secret", "agent-1")
	require.NoError(t, err)

	agentID, err := verifyStreamToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agentID)
}

func TestVerifyStreamToken_RejectsWrongSecret(t *testing.T) {
	token, err := signStreamToken("secret", "agent-1")
	require.NoError(t, err)

	_, err = verifyStreamToken("other-secret", token)
	assert.Error(t, err)
}
