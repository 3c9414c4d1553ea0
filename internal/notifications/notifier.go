// Package notifications provides change notifications, per-user websocket
// delivery and reminder dispatch.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"cuisine/internal/cache"

	"github.com/redis/go-redis/v9"
)

const (
	// FeedChangesChannel carries every post, like and comment write.
	FeedChangesChannel = "feed:changes"
	// BroadcastChannel reaches every connected user.
	BroadcastChannel = "notifications:broadcast"

	userChannelPattern = "notifications:user:*"
)

// Feed change kinds.
const (
	ChangePostCreated = "post_created"
	ChangePostUpdated = "post_updated"
	ChangePostDeleted = "post_deleted"
	ChangeLiked       = "liked"
	ChangeUnliked     = "unliked"
	ChangeCommented   = "commented"
)

// FeedChange describes a write to the posts collection.
type FeedChange struct {
	Kind   string    `json:"kind"`
	PostID uint      `json:"post_id"`
	UserID uint      `json:"user_id"`
	At     time.Time `json:"at"`
}

// Event is the envelope written to websocket clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Encode returns the JSON form of e.
func (e Event) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(b), nil
}

// UserChannel returns the pub/sub channel for one user's notifications.
func UserChannel(userID uint) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}

// Notifier publishes notifications into Redis channels and fans feed
// changes out to in-process listeners. Without Redis, feed changes are
// delivered to local listeners directly.
type Notifier struct {
	rdb *redis.Client

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(FeedChange)
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, listeners: make(map[int]func(FeedChange))}
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// PublishUserEvent encodes e and sends it to a user's channel.
func (n *Notifier) PublishUserEvent(ctx context.Context, userID uint, e Event) error {
	payload, err := e.Encode()
	if err != nil {
		return err
	}
	return n.PublishUser(ctx, userID, payload)
}

// PublishBroadcast sends a notification payload to all connected users.
func (n *Notifier) PublishBroadcast(ctx context.Context, payload string) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, BroadcastChannel, payload).Err()
}

// PublishFeedChange orphans cached feed snapshots and announces the change.
func (n *Notifier) PublishFeedChange(ctx context.Context, change FeedChange) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	if n.rdb == nil {
		n.dispatch(change)
		return nil
	}

	cache.BumpFeedGeneration(ctx, n.rdb)
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal feed change: %w", err)
	}
	return n.rdb.Publish(ctx, FeedChangesChannel, payload).Err()
}

// OnFeedChange registers fn for every feed change and returns the function
// that removes it.
func (n *Notifier) OnFeedChange(fn func(FeedChange)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// ListenerCount reports the number of registered feed listeners.
func (n *Notifier) ListenerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

func (n *Notifier) dispatch(change FeedChange) {
	n.mu.RLock()
	fns := make([]func(FeedChange), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in feed listener", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				}
			}()
			fn(change)
		}()
	}
}

// StartFeedSubscriber relays feed:changes messages to local listeners until
// ctx is cancelled.
func (n *Notifier) StartFeedSubscriber(ctx context.Context) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, FeedChangesChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", FeedChangesChannel, err)
	}

	go n.pump(ctx, sub, func(msg *redis.Message) {
		var change FeedChange
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			slog.Warn("invalid feed change payload", slog.String("error", err.Error()))
			return
		}
		n.dispatch(change)
	})
	return nil
}

// StartPatternSubscriber subscribes to pattern `notifications:user:*` and calls onMessage
// for each incoming message. onMessage receives channel and payload.
func (n *Notifier) StartPatternSubscriber(ctx context.Context, onMessage func(channel string, payload string)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userChannelPattern, BroadcastChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("psubscribe: %w", err)
	}

	go n.pump(ctx, sub, func(msg *redis.Message) {
		onMessage(msg.Channel, msg.Payload)
	})
	return nil
}

func (n *Notifier) pump(ctx context.Context, sub *redis.PubSub, handle func(*redis.Message)) {
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("panic in notification subscriber",
							slog.Any("panic", r),
							slog.String("stack", string(debug.Stack())),
						)
					}
				}()
				handle(msg)
			}()
		}
	}
}
