// Package testhelpers provides common utilities for testing the chat relay.
//
// It contains helpers for dialing the relay's WebSocket endpoint, exchanging
// protocol envelopes, and asserting HTTP response properties, so package
// tests do not repeat connection plumbing.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// DefaultReadTimeout bounds how long helpers wait for an expected frame.
const DefaultReadTimeout = 2 * time.Second

// Envelope is a received frame with its payload left undecoded.
type Envelope struct {
	Type protocol.Type   `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WebSocketURL converts an httptest server URL into the relay's ws:// endpoint.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url and registers the connection for cleanup.
func MustConnect(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, origin)
	require.NoError(t, err, "dial %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes an envelope with the given type and data. A nil data omits the
// field.
func Send(t *testing.T, conn *websocket.Conn, typ protocol.Type, data any) {
	t.Helper()
	frame := map[string]any{"type": typ}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

// SendHello performs the client side of the handshake.
func SendHello(t *testing.T, conn *websocket.Conn, user string) {
	t.Helper()
	Send(t, conn, protocol.TypeHello, map[string]string{"user": user})
}

// SendText sends a send_message envelope. No receivers means everyone.
func SendText(t *testing.T, conn *websocket.Conn, text string, receivers ...string) {
	t.Helper()
	data := map[string]any{"text": text}
	if len(receivers) > 0 {
		data["receivers"] = receivers
	}
	Send(t, conn, protocol.TypeSendMessage, data)
}

// SendRawMessage sends a raw text frame.
func SendRawMessage(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// Receive reads the next envelope within DefaultReadTimeout.
func Receive(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultReadTimeout)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// ReceiveType reads the next envelope, asserts its type, and decodes its data
// into dst when dst is not nil.
func ReceiveType(t *testing.T, conn *websocket.Conn, want protocol.Type, dst any) Envelope {
	t.Helper()
	env := Receive(t, conn)
	require.Equal(t, want, env.Type, "unexpected envelope: %s", env.Data)
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
	return env
}

// ExpectStatus requests the roster and requires chat_status to be the very
// next envelope, so nothing else was queued for conn ahead of it. The
// connection stays usable afterwards.
func ExpectStatus(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	Send(t, conn, protocol.TypeReceiveStatus, nil)
	var status protocol.ChatStatus
	ReceiveType(t, conn, protocol.TypeChatStatus, &status)
	return status.ActiveClients
}

// ExpectNoMessage asserts that nothing arrives on conn within timeout. A clean
// close from the server also counts as silence. A timed-out gorilla
// connection cannot be read again, so this must be the last read on conn.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", data)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// ExpectClose reads until the server closes the connection and returns the
// close error. Any envelopes read on the way are returned as well.
func ExpectClose(t *testing.T, conn *websocket.Conn) (*websocket.CloseError, []Envelope) {
	t.Helper()
	var seen []Envelope
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultReadTimeout)))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr, "expected a close frame")
			return closeErr, seen
		}
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		seen = append(seen, env)
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
