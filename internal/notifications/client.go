package notifications

import (
	"context"
	"io"
	"sync"
	"time"

	"cuisine/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10 // must fire before the peer's read deadline
	maxMessageSize = 16 << 10
	sendBuffer     = 256
)

// EventResync tells a client it missed events and should re-fetch its feed.
const EventResync = "resync"

var resyncNotice = mustEncode(Event{Type: EventResync, Payload: map[string]string{"reason": "buffer_full"}})

func mustEncode(e Event) []byte {
	s, err := e.Encode()
	if err != nil {
		panic(err)
	}
	return []byte(s)
}

// Conn is the subset of *websocket.Conn the pumps use.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	NextWriter(messageType int) (io.WriteCloser, error)
	Close() error
}

// WSHub is the side of a hub a client reports back to.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client owns one websocket connection of a signed-in user. Outbound frames
// go through Send; inbound frames are handed to IncomingHandler.
type Client struct {
	Hub    WSHub
	Conn   Conn
	Send   chan []byte
	UserID uint

	IncomingHandler func(*Client, []byte)

	log       *observability.WSLogger
	closeOnce sync.Once
}

// NewClient returns a client for userID on hub.
func NewClient(hub WSHub, conn Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
		log:    observability.NewWSLogger(hub.Name()),
	}
}

// Serve runs both pumps on the calling goroutine and returns only after the
// writer has stopped, so the connection is not touched once the handler that
// owns it returns.
func (c *Client) Serve() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.WritePump()
	}()
	c.ReadPump()
	c.Close()
	<-writerDone
}

// Close makes the writer send a close frame and stop, which in turn ends
// ReadPump. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// ReadPump delivers inbound frames until the peer goes away, then
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	extend := func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) }
	c.Conn.SetReadLimit(maxMessageSize)
	_ = extend("")
	c.Conn.SetPongHandler(extend)

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.ReadFailed(context.Background(), c.UserID, err)
			}
			return
		}
		observability.WebSocketEventsTotal.WithLabelValues("inbound").Inc()
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump writes queued frames and keepalive pings until Send is closed
// or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeText(message); err != nil {
				return
			}
			observability.WebSocketEventsTotal.WithLabelValues("outbound").Inc()
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Client) writeText(message []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// TrySend queues message without blocking. When the buffer is full the
// message and the oldest queued frame are dropped and a resync notice takes
// their place. Sends on a closed client are dropped.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
		return
	default:
	}

	observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
	select {
	case <-c.Send:
	default:
	}
	select {
	case c.Send <- resyncNotice:
	default:
	}
}
