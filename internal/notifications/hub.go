package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"cuisine/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000
)

// Registration failures.
var (
	ErrHubClosed      = errors.New("hub is shut down")
	ErrServerFull     = errors.New("server connection limit reached")
	ErrTooManyDevices = errors.New("user connection limit reached")
)

// Hub maps userID to that user's live websocket clients.
type Hub struct {
	name       string
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	closed     bool
	log        *observability.WSLogger
}

// NewHub creates an empty hub.
func NewHub(name string) *Hub {
	return &Hub{
		name:  name,
		conns: make(map[uint]map[*Client]struct{}),
		log:   observability.NewWSLogger(name),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return h.name }

// Register adds conn as one of userID's devices. The returned client is not
// running until its Serve is called.
func (h *Hub) Register(userID uint, conn Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrTooManyDevices
	}

	client := NewClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	h.log.Connected(context.Background(), userID)
	return client, nil
}

// UnregisterClient removes client. Unknown clients are ignored.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	h.totalConns--
	observability.WebSocketConnectionsTotal.Dec()
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
	h.log.Disconnected(context.Background(), client.UserID, "unregistered")
}

// ConnectionCount returns the number of live clients for userID.
func (h *Hub) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Broadcast queues message on every connection of userID.
func (h *Hub) Broadcast(userID uint, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fanOut(h.conns[userID], []byte(message))
}

// BroadcastAll queues message on every connection of every user.
func (h *Hub) BroadcastAll(message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data := []byte(message)
	for _, clients := range h.conns {
		fanOut(clients, data)
	}
}

func fanOut(clients map[*Client]struct{}, data []byte) {
	for c := range clients {
		c.TrySend(data)
	}
}

// StartWiring subscribes the hub to the notifier's user and broadcast
// channels.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, h.Route)
}

// Route delivers a pub/sub message to the connections its channel names.
func (h *Hub) Route(channel, payload string) {
	if channel == BroadcastChannel {
		h.BroadcastAll(payload)
		return
	}
	rest, ok := strings.CutPrefix(channel, "notifications:user:")
	userID, err := strconv.ParseUint(rest, 10, 0)
	if !ok || err != nil {
		slog.Warn("invalid notification channel", slog.String("channel", channel))
		return
	}
	h.Broadcast(uint(userID), payload)
}

// Shutdown sends a going-away close frame to every client and refuses
// further registrations.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	goingAway := websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")
	for userID, clients := range h.conns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			_ = client.write(websocket.CloseMessage, goingAway)
			_ = client.Conn.Close()
			observability.WebSocketConnectionsTotal.Dec()
			h.log.Disconnected(context.Background(), userID, "shutdown")
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
