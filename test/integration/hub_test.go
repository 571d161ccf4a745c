// Package integration exercises the hub end to end over real WebSocket
// connections: registration, relay, reachability queries, and the
// duplicate-name race.
package integration

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandofader91-create/api/internal/hub"
	"github.com/fernandofader91-create/api/test/testhelpers"
)

// TestRegistrationLifecycle registers a world server, checks the result frame
// and the registry, then closes the transport and waits for deregistration.
func TestRegistrationLifecycle(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	result := testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret)

	assert.True(t, result.Success)
	assert.Equal(t, "Zone1", result.ServerID)
	assert.NotEmpty(t, result.Message)
	assert.Equal(t, []string{"Zone1"}, h.ConnectedNames())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(h.ConnectedNames()) == 0
	}, 2*time.Second, 10*time.Millisecond, "closing the transport must deregister the world")
}

func TestRegistrationWithNumericTypeAlias(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	frame, err := json.Marshal(map[string]any{
		"type": 1,
		"data": map[string]string{"name": "Zone1", "token": testhelpers.SharedSecret},
	})
	require.NoError(t, err)
	testhelpers.SendRaw(t, conn, frame)

	result := testhelpers.RecvPayload[hub.ServerConnectResultData](t, conn, hub.KindServerConnectResult)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"Zone1"}, h.ConnectedNames())
}

func TestInvalidTokenClosesConnection(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"wrong token of equal length", "integration-shared-secreX"},
		{"length-mismatched token", "nope"},
		{"empty token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

			conn := testhelpers.Dial(t, wsURL)
			result := testhelpers.Register(t, conn, "Zone1", tt.token)

			assert.False(t, result.Success)
			assert.Empty(t, h.ConnectedNames(), "a rejected world must never appear in the registry")

			// The failure reply is followed by the close frame; the
			// next read must fail rather than deliver another frame.
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err := conn.ReadMessage()
			require.Error(t, err, "expected the hub to close the connection")
		})
	}
}

// TestRelayUserConnected pushes a player handoff through the hub's relay API
// and checks the exact frame arrives on the world server's transport.
func TestRelayUserConnected(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret).Success)

	env := hub.NewEnvelope(hub.KindUserConnected, hub.UserConnectedData{Username: "bob", Token: "t"})
	assert.Equal(t, hub.Delivered, h.Relay("Zone1", env))

	payload := testhelpers.RecvPayload[hub.UserConnectedData](t, conn, hub.KindUserConnected)
	assert.Equal(t, "bob", payload.Username)
	assert.Equal(t, "t", payload.Token)
}

func TestRelayUnknownServer(t *testing.T) {
	h, _, _ := testhelpers.StartHub(t, testhelpers.HubConfig())

	env := hub.NewEnvelope(hub.KindUserConnected, hub.UserConnectedData{Username: "bob"})
	assert.Equal(t, hub.NotFound, h.Relay("Unknown", env))
}

// TestReachabilityQuery covers the CLIENT_CONNECT path before and after the
// queried world deregisters.
func TestReachabilityQuery(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	zone1 := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, zone1, "Zone1", testhelpers.SharedSecret).Success)

	zone2 := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, zone2, "Zone2", testhelpers.SharedSecret).Success)

	testhelpers.Send(t, zone2, hub.NewEnvelope(hub.KindClientConnect, hub.ClientConnectData{ServerName: "Zone1"}))
	reply := testhelpers.RecvPayload[hub.ClientConnectResultData](t, zone2, hub.KindClientConnectResult)
	assert.True(t, reply.Success)
	assert.NotEmpty(t, reply.Token)

	require.NoError(t, zone1.Close())
	require.Eventually(t, func() bool {
		return len(h.ConnectedNames()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	testhelpers.Send(t, zone2, hub.NewEnvelope(hub.KindClientConnect, hub.ClientConnectData{ServerName: "Zone1"}))
	reply = testhelpers.RecvPayload[hub.ClientConnectResultData](t, zone2, hub.KindClientConnectResult)
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.Message)
}

// TestClientConnectBeforeAuthIsIgnored verifies that an unauthenticated
// session gets no reachability answer but keeps its connection.
func TestClientConnectBeforeAuthIsIgnored(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	testhelpers.Send(t, conn, hub.NewEnvelope(hub.KindClientConnect, hub.ClientConnectData{ServerName: "Zone1"}))

	// The connection survived; a registration still works on it.
	result := testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"Zone1"}, h.ConnectedNames())
}

// TestReRegistrationIsIdempotent re-sends SERVER_CONNECT on an authenticated
// session and checks exactly one registry entry remains.
func TestReRegistrationIsIdempotent(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret).Success)
	require.True(t, testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret).Success)

	assert.Equal(t, []string{"Zone1"}, h.ConnectedNames())

	// The single entry still points at this session: a relay reaches it.
	env := hub.NewEnvelope(hub.KindUserConnected, hub.UserConnectedData{Username: "bob"})
	require.Equal(t, hub.Delivered, h.Relay("Zone1", env))
	testhelpers.RecvPayload[hub.UserConnectedData](t, conn, hub.KindUserConnected)
}

// TestRenameMovesRegistryEntry re-registers an authenticated session under a
// new name and checks the old name is released.
func TestRenameMovesRegistryEntry(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret).Success)
	require.True(t, testhelpers.Register(t, conn, "Zone2", testhelpers.SharedSecret).Success)

	assert.Equal(t, []string{"Zone2"}, h.ConnectedNames())
}

// TestDuplicateNameRace registers two sessions under the same name with the
// close-displaced policy off; the loser's close must not deregister the
// winner.
func TestDuplicateNameRace(t *testing.T) {
	cfg := testhelpers.HubConfig()
	cfg.CloseDisplaced = false
	h, _, wsURL := testhelpers.StartHub(t, cfg)

	a := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, a, "Zone1", testhelpers.SharedSecret).Success)

	b := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, b, "Zone1", testhelpers.SharedSecret).Success)

	require.NoError(t, a.Close())

	// Give A's teardown time to run; Zone1 must survive it.
	time.Sleep(100 * time.Millisecond)
	assert.Contains(t, h.ConnectedNames(), "Zone1")

	// And the surviving entry is B's.
	env := hub.NewEnvelope(hub.KindUserConnected, hub.UserConnectedData{Username: "bob"})
	require.Equal(t, hub.Delivered, h.Relay("Zone1", env))
	testhelpers.RecvPayload[hub.UserConnectedData](t, b, hub.KindUserConnected)
}

// TestDisplacedSessionClosedByPolicy checks the default close-displaced
// behavior: the earlier session's transport is shut when a newer one takes
// its name.
func TestDisplacedSessionClosedByPolicy(t *testing.T) {
	cfg := testhelpers.HubConfig()
	cfg.CloseDisplaced = true
	h, _, wsURL := testhelpers.StartHub(t, cfg)

	a := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, a, "Zone1", testhelpers.SharedSecret).Success)

	b := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, b, "Zone1", testhelpers.SharedSecret).Success)

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	require.Error(t, err, "displaced connection should be closed by the hub")

	assert.Contains(t, h.ConnectedNames(), "Zone1")
}

// TestBadFramesAreTolerated sends malformed and unknown-kind frames and then
// proves the connection still works.
func TestBadFramesAreTolerated(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret).Success)

	testhelpers.SendRaw(t, conn, []byte(`this is not json`))
	testhelpers.SendRaw(t, conn, []byte(`{"type":"TELEPORT","data":{}}`))
	testhelpers.SendRaw(t, conn, []byte(`{"type":99,"data":{}}`))

	// Still authenticated, still registered, still answering queries.
	testhelpers.Send(t, conn, hub.NewEnvelope(hub.KindClientConnect, hub.ClientConnectData{ServerName: "Zone1"}))
	reply := testhelpers.RecvPayload[hub.ClientConnectResultData](t, conn, hub.KindClientConnectResult)
	assert.True(t, reply.Success)
	assert.Equal(t, []string{"Zone1"}, h.ConnectedNames())
}

// TestHubShutdownClosesSessions verifies a graceful shutdown tears down live
// world connections.
func TestHubShutdownClosesSessions(t *testing.T) {
	h, _, wsURL := testhelpers.StartHub(t, testhelpers.HubConfig())

	conn := testhelpers.Dial(t, wsURL)
	require.True(t, testhelpers.Register(t, conn, "Zone1", testhelpers.SharedSecret).Success)

	require.NoError(t, h.Shutdown(2*time.Second))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "session transports must be closed on shutdown")
}
