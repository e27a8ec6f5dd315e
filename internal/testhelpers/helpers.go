// Package testhelpers provides common utilities for testing the relay server.
//
// It holds the HTTP request helpers and the push-channel frame helpers shared
// by the server, client and bot tests, so each test file only states what it
// checks.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 5 * time.Second

// Frame is a decoded push-channel frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v), "decode %s payload", f.Event)
}

// CreateTestServer creates a test HTTP server with the given handler and
// closes it when the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

// WebSocketURL converts an http test server URL into its ws endpoint.
func WebSocketURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType checks the media type of the response, ignoring parameters.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, expected), "expected content type %s, got %s", expected, contentType)
}

// MakeRequest creates and executes an HTTP request with an optional JSON body.
func MakeRequest(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "create request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: DefaultTimeout}
	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// PostJSON sends body as JSON and returns the response.
func PostJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	return MakeRequest(t, http.MethodPost, url, body)
}

// GetJSON issues a GET and decodes the response body into out.
func GetJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp := MakeRequest(t, http.MethodGet, url, nil)
	DecodeJSON(t, resp, out)
	return resp
}

// DecodeJSON decodes the response body into out.
func DecodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "decode response body")
}

// ConnectWebSocket dials url with the given Origin header (none when empty).
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials the push channel of baseURL and closes it when the test ends.
func MustConnect(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(WebSocketURL(baseURL), "")
	require.NoError(t, err, "dial websocket")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one {"event","data"} frame.
func SendEvent(conn *websocket.Conn, event string, data any) error {
	return conn.WriteJSON(map[string]any{"event": event, "data": data})
}

// ReadFrame reads the next frame, waiting at most timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	var frame Frame
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return frame, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(raw, &frame)
	return frame, err
}

// ReadEvent reads frames until one named event arrives and returns it. Other
// frames are skipped.
func ReadEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "timed out waiting for %s", event)
		frame, err := ReadFrame(conn, remaining)
		require.NoError(t, err, "waiting for %s", event)
		if frame.Event == event {
			return frame
		}
	}
}

// ExpectNoFrame fails if a frame arrives within timeout.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	frame, err := ReadFrame(conn, timeout)
	if err == nil {
		t.Fatalf("expected no frame, got %s", frame.Event)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of frame: %v", err)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it holds or DefaultTimeout passes.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, DefaultTimeout, 10*time.Millisecond, msg)
}
