// Package testhelpers provides shared utilities for exercising the relay
// over real WebSocket connections in integration tests.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-server/internal/server"
)

// DefaultOrigin is on the default allowlist and used by test dials.
const DefaultOrigin = "http://localhost:3000"

// StartRelay builds a hub with default configuration, starts its event loop,
// and serves its routes from an httptest server. Everything is torn down with
// the test.
func StartRelay(t *testing.T) (*server.Hub, *httptest.Server) {
	t.Helper()

	hub := server.NewHub(zerolog.Nop())
	go hub.Run()

	handler := server.NewHandler(hub, server.DefaultConfig(), zerolog.Nop())
	ts := httptest.NewServer(handler.Routes())

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})
	return hub, ts
}

// WSURL converts an httptest server URL into its WebSocket endpoint.
func WSURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// DialWebSocket opens a WebSocket connection with the given Origin header.
func DialWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Connect opens a connection from an allowlisted origin and registers
// cleanup. It fails the test if the handshake does not complete.
func Connect(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, err := DialWebSocket(WSURL(ts), DefaultOrigin)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one envelope-framed event.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshaling %s payload: %v", event, err)
	}
	if err := conn.WriteJSON(server.Envelope{Event: event, Data: payload}); err != nil {
		t.Fatalf("sending %s event: %v", event, err)
	}
}

// Join announces a username on a connection.
func Join(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	SendEvent(t, conn, server.EventUserJoin, server.Participant{Username: username})
}

// ReceiveEvent reads the next envelope or fails the test after the timeout.
func ReceiveEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) server.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}

	var env server.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return env
}

// WaitForEvent reads until an envelope with the given name arrives, skipping
// any other events, or fails at the deadline.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) server.Envelope {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %s event", event)
		}
		env := ReceiveEvent(t, conn, remaining)
		if env.Event == event {
			return env
		}
	}
}

// ExpectNoEvent asserts that nothing arrives within the window. A read
// deadline violation corrupts the gorilla connection, so call this only once
// a connection is done with ordinary traffic.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}

	var env server.Envelope
	err := conn.ReadJSON(&env)
	if err == nil {
		t.Fatalf("expected no event, received %s", env.Event)
	}
	if !isTimeout(err) {
		t.Fatalf("expected read timeout, got: %v", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// gorilla wraps deadline errors on some paths
	return strings.Contains(err.Error(), "i/o timeout")
}

// MakeRequest executes an HTTP request with a short timeout and fails the
// test on transport errors.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("executing request: %v", err)
	}
	return resp
}

// AssertStatusCode checks the response status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// CloseWebSocket performs a client-initiated close handshake.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
