// Package testhelpers provides shared utilities for exercising a hub over
// real WebSocket connections in integration tests.
package testhelpers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fernandofader91-create/api/internal/hub"
)

// SharedSecret is the registration token configured on hubs built by StartHub.
const SharedSecret = "integration-shared-secret"

// Logger returns a quiet logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// HubConfig returns a hub configuration suitable for tests: the shared
// secret from this package and short timeouts so failures surface quickly.
func HubConfig() hub.Config {
	cfg := hub.DefaultConfig()
	cfg.SharedSecret = SharedSecret
	cfg.AuthTimeout = 2 * time.Second
	cfg.SendTimeout = 100 * time.Millisecond
	return cfg
}

// StartHub builds a hub with the given configuration, serves its routes on an
// httptest server, and registers cleanup. It returns the hub, the HTTP test
// server, and the ws:// URL of the upgrade endpoint.
func StartHub(t *testing.T, cfg hub.Config) (*hub.Hub, *httptest.Server, string) {
	t.Helper()

	h := hub.New(cfg, Logger())
	handler := hub.NewHandler(h, Logger())
	ts := httptest.NewServer(hub.SetupRoutes(handler))

	t.Cleanup(func() {
		ts.Close()
		_ = h.Shutdown(2 * time.Second)
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return h, ts, wsURL
}

// Dial opens a WebSocket connection to the hub and registers cleanup.
func Dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing hub at %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes one envelope on the connection.
func Send(t *testing.T, conn *websocket.Conn, env hub.Envelope) {
	t.Helper()

	if err := conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("setting write deadline: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, env.Encode()); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

// SendRaw writes raw bytes on the connection, for malformed-frame tests.
func SendRaw(t *testing.T, conn *websocket.Conn, raw []byte) {
	t.Helper()

	if err := conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("setting write deadline: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("writing raw frame: %v", err)
	}
}

// Recv reads and decodes the next envelope from the connection.
func Recv(t *testing.T, conn *websocket.Conn) hub.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}

	env, err := hub.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decoding frame %q: %v", raw, err)
	}
	return env
}

// RecvPayload reads the next envelope, asserts its kind, and decodes its
// payload into T.
func RecvPayload[T any](t *testing.T, conn *websocket.Conn, want hub.Kind) T {
	t.Helper()

	env := Recv(t, conn)
	if env.Kind != want {
		t.Fatalf("expected %s frame, got %s", want, env.Kind)
	}

	var payload T
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decoding %s payload: %v", want, err)
	}
	return payload
}

// Register performs a SERVER_CONNECT handshake and returns the result payload.
func Register(t *testing.T, conn *websocket.Conn, name, token string) hub.ServerConnectResultData {
	t.Helper()

	Send(t, conn, hub.NewEnvelope(hub.KindServerConnect, hub.ServerConnectData{
		Name:  name,
		Token: token,
	}))
	return RecvPayload[hub.ServerConnectResultData](t, conn, hub.KindServerConnectResult)
}
