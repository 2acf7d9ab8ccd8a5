package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/connect"
)

// testHub sets up a Hub behind a test HTTP server that upgrades connections
// to websockets. Returns the hub and a dial function.
func testHub(t *testing.T) (*Hub, func(userID uuid.UUID) *ws.Conn) {
	t.Helper()

	hub := NewHub()
	t.Cleanup(func() { hub.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		userID := uuid.MustParse(r.URL.Query().Get("user"))
		_ = hub.Register(userID, conn)

		go func() {
			defer hub.Unregister(userID, conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func(userID uuid.UUID) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user=" + userID.String()
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return hub, dial
}

func waitForClientCount(hub *Hub, userID uuid.UUID, expected int) bool {
	for range 100 {
		if hub.ClientCount(userID) == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func readMessage(t *testing.T, conn *ws.Conn) connect.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg connect.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastReachesAllUserSockets(t *testing.T) {
	hub, dial := testHub(t)
	userID := uuid.New()

	first := dial(userID)
	second := dial(userID)
	require.True(t, waitForClientCount(hub, userID, 2))

	hub.Broadcast(userID, connect.Message{
		Type:    connect.MessageTypeOAuthComplete,
		Success: true,
		AppSlug: "github",
	})

	for _, conn := range []*ws.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, connect.MessageTypeOAuthComplete, msg.Type)
		assert.True(t, msg.Success)
		assert.Equal(t, "github", msg.AppSlug)
	}
}

func TestHubBroadcastIsScopedToUser(t *testing.T) {
	hub, dial := testHub(t)
	alice, bob := uuid.New(), uuid.New()

	aliceConn := dial(alice)
	bobConn := dial(bob)
	require.True(t, waitForClientCount(hub, alice, 1))
	require.True(t, waitForClientCount(hub, bob, 1))

	hub.Broadcast(alice, connect.Message{Type: connect.MessageTypeOAuthComplete, Success: true})

	msg := readMessage(t, aliceConn)
	assert.True(t, msg.Success)

	bobConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := bobConn.ReadMessage()
	assert.Error(t, err, "other users must not receive the broadcast")
}

func TestHubUnregisterOnDisconnect(t *testing.T) {
	hub, dial := testHub(t)
	userID := uuid.New()

	conn := dial(userID)
	require.True(t, waitForClientCount(hub, userID, 1))

	conn.Close()
	assert.True(t, waitForClientCount(hub, userID, 0))
}

func TestHubBroadcastWithoutClientsIsNoop(t *testing.T) {
	hub, _ := testHub(t)

	hub.Broadcast(uuid.New(), connect.Message{Type: connect.MessageTypeOAuthComplete})
	assert.Equal(t, 0, hub.ClientCount(uuid.New()))
}

func TestHubCallsAfterStopDoNotBlock(t *testing.T) {
	hub := NewHub()
	hub.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)

		err := hub.Register(uuid.New(), nil)
		assert.ErrorIs(t, err, ErrHubStopped)

		hub.Broadcast(uuid.New(), connect.Message{Type: connect.MessageTypeOAuthComplete})
		hub.Unregister(uuid.New(), nil)
		assert.Equal(t, 0, hub.ClientCount(uuid.New()))

		// Stop is idempotent.
		hub.Stop()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub call blocked after Stop")
	}
}
