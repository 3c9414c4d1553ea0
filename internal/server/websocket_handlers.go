package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"cuisine/internal/feed"
	"cuisine/internal/geo"
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Feed socket event types.
const (
	EventConnected    = "connected"
	EventFeedSnapshot = "feed"
	EventError        = "error"
)

// feedClientMessage is what a feed socket client may send.
type feedClientMessage struct {
	Type string   `json:"type"` // "focus" or "refresh"
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

func (s *Server) baseContext() context.Context {
	if s.shutdownCtx != nil {
		return s.shutdownCtx
	}
	return context.Background()
}

func sessionFromConn(conn *websocket.Conn) (models.Session, bool) {
	session, ok := conn.Locals(middleware.SessionLocal).(models.Session)
	return session, ok && session.Authenticated()
}

func writeEvent(conn *websocket.Conn, e notifications.Event) {
	payload, err := e.Encode()
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func sendEvent(client *notifications.Client, e notifications.Event) {
	payload, err := e.Encode()
	if err != nil {
		slog.Warn("encode websocket event", slog.String("type", e.Type), slog.String("error", err.Error()))
		return
	}
	client.TrySend([]byte(payload))
}

// WebsocketHandler returns the per-user notification stream. Reminders and
// auth-state events published to the user's channel arrive here.
// Authentication is handled by route middleware.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		session, ok := sessionFromConn(conn)
		if !ok {
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(session.UserID, conn)
		if err != nil {
			slog.Warn("websocket register failed", slog.Uint64("user_id", uint64(session.UserID)), slog.String("error", err.Error()))
			writeEvent(conn, notifications.Event{Type: EventError, Payload: fiber.Map{"message": err.Error()}})
			_ = conn.Close()
			return
		}
		defer s.hub.UnregisterClient(client)

		sendEvent(client, notifications.Event{Type: EventConnected, Payload: fiber.Map{"user_id": session.UserID}})
		client.Serve()
	})
}

// WebSocketFeedHandler streams live feed snapshots. The view and initial
// location come from the query string (view, user_id, lat, lng, radius);
// clients send {"type":"focus","lat":..,"lng":..} when the screen regains
// focus and {"type":"refresh"} to force a rebuild. The socket closes when
// the user signs out.
func (s *Server) WebSocketFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		session, ok := sessionFromConn(conn)
		if !ok {
			_ = conn.Close()
			return
		}

		q, err := feedQueryFromConn(conn)
		if err != nil {
			writeEvent(conn, notifications.Event{Type: EventError, Payload: fiber.Map{"message": err.Error()}})
			_ = conn.Close()
			return
		}

		client, err := s.feedHub.Register(session.UserID, conn)
		if err != nil {
			writeEvent(conn, notifications.Event{Type: EventError, Payload: fiber.Map{"message": err.Error()}})
			_ = conn.Close()
			return
		}
		defer s.feedHub.UnregisterClient(client)

		stream, err := s.feedService.Subscribe(s.baseContext(), session, q, func(snap feed.Snapshot) {
			sendEvent(client, notifications.Event{Type: EventFeedSnapshot, Payload: snap})
		})
		if err != nil {
			writeEvent(conn, notifications.Event{Type: EventError, Payload: fiber.Map{"message": err.Error()}})
			_ = conn.Close()
			return
		}
		defer stream.Close()

		client.IncomingHandler = func(_ *notifications.Client, message []byte) {
			var msg feedClientMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				return
			}
			switch msg.Type {
			case "focus":
				viewer := geo.NewCoordinate(msg.Lat, msg.Lng)
				if !viewer.Valid() {
					viewer = nil
				}
				stream.Focus(s.baseContext(), viewer)
			case "refresh":
				stream.Refresh()
			}
		}

		// Sign-out and shutdown end the stream. The writer then sends a close
		// frame, which ends the read loop.
		go func() {
			<-stream.Done()
			client.Close()
		}()

		client.Serve()
	})
}

func feedQueryFromConn(conn *websocket.Conn) (service.FeedQuery, error) {
	view, err := feed.ParseView(conn.Query("view"))
	if err != nil {
		return service.FeedQuery{}, err
	}
	q := service.FeedQuery{View: view}

	if raw := conn.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return service.FeedQuery{}, models.NewValidationError("Invalid user ID")
		}
		q.SubjectID = uint(id)
	}
	if raw := conn.Query("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			return service.FeedQuery{}, models.NewValidationError("radius must be a positive number of kilometres")
		}
		q.RadiusKm = r
	}
	latRaw, lngRaw := conn.Query("lat"), conn.Query("lng")
	if latRaw != "" && lngRaw != "" {
		lat, latErr := strconv.ParseFloat(latRaw, 64)
		lng, lngErr := strconv.ParseFloat(lngRaw, 64)
		if latErr != nil || lngErr != nil {
			return service.FeedQuery{}, models.NewValidationError("Invalid lat/lng")
		}
		if viewer := geo.NewCoordinate(&lat, &lng); viewer.Valid() {
			q.Viewer = viewer
		}
	}
	return q, nil
}
