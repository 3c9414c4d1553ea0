package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"cuisine/internal/feed"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// listen serves the app on a loopback port with the pub/sub relays running.
func (e *testEnv) listen() string {
	e.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(e.t, e.srv.notifier.StartFeedSubscriber(ctx))
	require.NoError(e.t, e.srv.hub.StartWiring(ctx, e.srv.notifier))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(e.t, err)
	go func() { _ = e.app.Listener(ln) }()

	e.t.Cleanup(func() {
		cancel()
		_ = e.app.Shutdown()
	})
	return ln.Addr().String()
}

func dialWS(t *testing.T, addr, path string, query url.Values) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: path, RawQuery: query.Encode()}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// nextEvent reads until an event of type want arrives.
func nextEvent(t *testing.T, conn *websocket.Conn, want string) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var e wsEvent
		require.NoError(t, json.Unmarshal(msg, &e))
		if e.Type == want {
			return e
		}
	}
}

func nextSnapshot(t *testing.T, conn *websocket.Conn, match func(feed.Snapshot) bool) feed.Snapshot {
	t.Helper()
	for {
		e := nextEvent(t, conn, EventFeedSnapshot)
		var snap feed.Snapshot
		require.NoError(t, json.Unmarshal(e.Payload, &snap))
		if match(snap) {
			return snap
		}
	}
}

func TestWebSocketFeed_LiveUpdatesUntilSignOut(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")
	bob := env.signup("bob")
	addr := env.listen()

	conn := dialWS(t, addr, "/api/ws/feed", url.Values{
		"token": {alice.Token},
		"lat":   {"40.7306"},
		"lng":   {"-74.0021"},
	})

	initial := nextSnapshot(t, conn, func(feed.Snapshot) bool { return true })
	assert.True(t, initial.GeoActive)
	assert.Empty(t, initial.Posts)

	pastrami := env.createPost(bob.Token, "Pastrami", "katz")
	snap := nextSnapshot(t, conn, func(s feed.Snapshot) bool { return len(s.Posts) == 1 })
	assert.Equal(t, pastrami, snap.Posts[0].ID)
	assert.Equal(t, "bob", snap.Posts[0].AuthorName)

	// Moving out of range on focus empties the feed.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "focus", "lat": 48.8566, "lng": 2.3522}))
	nextSnapshot(t, conn, func(s feed.Snapshot) bool { return len(s.Posts) == 0 })

	resp, raw := env.do(http.MethodPost, "/api/auth/logout", alice.Token, nil)
	env.decode(resp, raw, http.StatusNoContent, nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "socket should close after sign-out")
			break
		}
	}
	assert.Eventually(t, func() bool { return env.srv.feedService.StreamCount() == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestWebSocketFeed_RejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	addr := env.listen()

	u := url.URL{Scheme: "ws", Host: addr, Path: "/api/ws/feed", RawQuery: "token=nope"}
	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsocketHandler_PushesAuthState(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")
	addr := env.listen()

	conn := dialWS(t, addr, "/api/ws", url.Values{"token": {alice.Token}})
	connected := nextEvent(t, conn, EventConnected)
	assert.Contains(t, string(connected.Payload), "user_id")

	// Signing in on another device is pushed to open sockets.
	resp, raw := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "Tasty1Noodles!",
	})
	env.decode(resp, raw, http.StatusOK, nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var e wsEvent
	require.NoError(t, json.Unmarshal(msg, &e))
	assert.Equal(t, EventAuthState, e.Type)
	assert.Contains(t, string(e.Payload), "signed_in")
}
