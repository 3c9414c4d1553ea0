package notifications

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"cuisine/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_PublishUser(t *testing.T) {
	// Notifier with nil Redis should return nil error (fail-open/noop)
	n := NewNotifier(nil)
	err := n.PublishUser(context.Background(), 1, "test payload")
	assert.NoError(t, err)
}

func TestUserChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		userID   uint
		expected string
	}{
		{1, "notifications:user:1"},
		{100, "notifications:user:100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, UserChannel(tt.userID))
	}
}

func TestNotifier_LocalFeedChangesWithoutRedis(t *testing.T) {
	t.Parallel()
	n := NewNotifier(nil)

	var got atomic.Int32
	unsubscribe := n.OnFeedChange(func(c FeedChange) {
		assert.Equal(t, ChangeLiked, c.Kind)
		got.Add(1)
	})
	require.NoError(t, n.PublishFeedChange(context.Background(), FeedChange{Kind: ChangeLiked, PostID: 3}))
	assert.Equal(t, int32(1), got.Load())

	unsubscribe()
	unsubscribe()
	assert.Zero(t, n.ListenerCount())
	require.NoError(t, n.PublishFeedChange(context.Background(), FeedChange{Kind: ChangeLiked, PostID: 3}))
	assert.Equal(t, int32(1), got.Load())
}

func TestNotifier_FeedChangesThroughRedis(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan FeedChange, 1)
	defer n.OnFeedChange(func(c FeedChange) { changes <- c })()
	require.NoError(t, n.StartFeedSubscriber(ctx))

	require.NoError(t, n.PublishFeedChange(ctx, FeedChange{Kind: ChangePostCreated, PostID: 11, UserID: 2}))

	select {
	case c := <-changes:
		assert.Equal(t, uint(11), c.PostID)
		assert.False(t, c.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("feed change not delivered")
	}
	assert.Equal(t, int64(1), cache.FeedGeneration(ctx, rdb))
}

func TestNotifier_PatternSubscriberStopsOnCancel(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received int32
	payloads := make(chan string, 2)
	require.NoError(t, n.StartPatternSubscriber(ctx, func(_ string, payload string) {
		atomic.AddInt32(&received, 1)
		payloads <- payload
	}))

	require.NoError(t, n.PublishUserEvent(context.Background(), 5, Event{Type: "ping"}))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 1
	}, time.Second, 10*time.Millisecond)

	var e Event
	require.NoError(t, json.Unmarshal([]byte(<-payloads), &e))
	assert.Equal(t, "ping", e.Type)

	cancel()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, n.PublishUser(context.Background(), 5, "after-cancel"))
	assert.Never(t, func() bool {
		select {
		case payload := <-payloads:
			return payload == "after-cancel"
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)
}
