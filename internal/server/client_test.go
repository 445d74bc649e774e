package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

func newDetachedClient(t *testing.T, bufferSize int) *Client {
	t.Helper()
	hub := NewHub(func() config.Config {
		cfg := testConfig()
		cfg.SendBufferSize = bufferSize
		return cfg
	}(), quietLogger())
	return NewClient(nil, hub, "192.0.2.1:4000")
}

func TestClientSend(t *testing.T) {
	c := newDetachedClient(t, 1)

	require.NoError(t, c.Send([]byte("one")))
	require.ErrorIs(t, c.Send([]byte("two")), ErrSendBufferFull)

	require.NoError(t, c.CloseWith(websocket.ClosePolicyViolation, "bye"))
	require.ErrorIs(t, c.Send([]byte("three")), ErrTransportClosed)

	frame, ok := <-c.send
	require.True(t, ok)
	require.Equal(t, []byte("one"), frame)
	_, ok = <-c.send
	require.False(t, ok, "send queue should be closed")
}

func TestClientCloseOnlyOnce(t *testing.T) {
	c := newDetachedClient(t, 4)

	require.NoError(t, c.CloseWith(websocket.ClosePolicyViolation, "first"))
	require.NoError(t, c.Close())
	require.NoError(t, c.CloseWith(websocket.CloseGoingAway, "third"))

	require.Equal(t, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "first"), c.closeFrame)
}

func TestClientImplementsTransport(t *testing.T) {
	var _ registry.Transport = (*Client)(nil)
}

func TestClientSanitizedConfig(t *testing.T) {
	c := newDetachedClient(t, 0)
	require.Equal(t, config.DefaultSendBufferSize, cap(c.send))
	require.Equal(t, StateConnecting, c.state)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateAwaitingHello, true},
		{StateConnecting, StateClosed, true},
		{StateConnecting, StateActive, false},
		{StateAwaitingHello, StateActive, true},
		{StateAwaitingHello, StateClosed, true},
		{StateAwaitingHello, StateConnecting, false},
		{StateActive, StateActive, true},
		{StateActive, StateClosed, true},
		{StateActive, StateAwaitingHello, false},
		{StateClosed, StateActive, false},
		{StateClosed, StateClosed, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "awaiting_hello", StateAwaitingHello.String())
	require.Equal(t, "active", StateActive.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestCloseReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		reason string
	}{
		{"Clean exit", nil, websocket.CloseNormalClosure, ""},
		{"Peer went away", fmt.Errorf("%w: EOF", ErrDisconnected), websocket.CloseNormalClosure, ""},
		{"Handshake timeout", ErrHandshakeTimeout, websocket.ClosePolicyViolation, "handshake timeout"},
		{"Invalid hello", fmt.Errorf("%w: bad", ErrInvalidHandshake), websocket.ClosePolicyViolation, "invalid hello"},
		{"Duplicate identity", fmt.Errorf("%w: %q", registry.ErrDuplicateIdentity, "alice"), websocket.ClosePolicyViolation, "identity already connected"},
		{"Shutdown", ErrHubClosed, websocket.CloseGoingAway, "server shutting down"},
		{"Anything else", errors.New("boom"), websocket.CloseInternalServerErr, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason := closeReason(tt.err)
			require.Equal(t, tt.code, code)
			require.Equal(t, tt.reason, reason)
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestIsTimeout(t *testing.T) {
	require.True(t, isTimeout(timeoutError{}))
	require.True(t, isTimeout(fmt.Errorf("read: %w", timeoutError{})))
	require.False(t, isTimeout(io.EOF))
	require.False(t, isTimeout(nil))
}

func TestIsExpectedCloseError(t *testing.T) {
	require.True(t, isExpectedCloseError(nil))
	require.True(t, isExpectedCloseError(errors.New("write tcp: use of closed network connection")))
	require.True(t, isExpectedCloseError(websocket.ErrCloseSent))
	require.True(t, isExpectedCloseError(errors.New("write: broken pipe")))
	require.False(t, isExpectedCloseError(errors.New("something else")))
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	rl := newRateLimiterWithClock(3, 3*time.Second, clock)

	for i := range 3 {
		require.True(t, rl.allow(), "token %d", i)
	}
	require.False(t, rl.allow())

	now = now.Add(time.Second)
	require.True(t, rl.allow())
	require.False(t, rl.allow())

	now = now.Add(time.Hour)
	for range 3 {
		require.True(t, rl.allow())
	}
	require.False(t, rl.allow(), "refill is capped at capacity")
}

func TestRateLimiterDefaults(t *testing.T) {
	now := time.Unix(0, 0)
	rl := newRateLimiterWithClock(0, 0, func() time.Time { return now })

	require.True(t, rl.allow())
	require.False(t, rl.allow())

	now = now.Add(time.Second)
	require.True(t, rl.allow())
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"http://localhost:8080", "http://localhost:8080", true},
		{"HTTPS://Example.COM", "https://example.com", true},
		{"https://example.com/path?q=1", "https://example.com", true},
		{"example.com", "", false},
		{"http://", "", false},
		{"://bad", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := normalizeOrigin(tt.in)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeOrigins(t *testing.T) {
	origins, allowAll := normalizeOrigins([]string{" http://a.test ", "", "bogus", "*"}, quietLogger())
	require.True(t, allowAll)
	require.Equal(t, []string{"http://a.test"}, origins)

	origins, allowAll = normalizeOrigins(nil, quietLogger())
	require.False(t, allowAll)
	require.Empty(t, origins)
}
