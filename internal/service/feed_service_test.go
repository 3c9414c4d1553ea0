package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"cuisine/internal/feed"
	"cuisine/internal/models"
	"cuisine/internal/notifications"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// changeHub is an in-process FeedChangeSource.
type changeHub struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(notifications.FeedChange)
}

func newChangeHub() *changeHub {
	return &changeHub{listeners: make(map[int]func(notifications.FeedChange))}
}

func (h *changeHub) OnFeedChange(fn func(notifications.FeedChange)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *changeHub) emit() {
	h.mu.Lock()
	fns := make([]func(notifications.FeedChange), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(notifications.FeedChange{Kind: notifications.ChangeLiked})
	}
}

func (h *changeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func newFeedFixture(t *testing.T) (*FeedService, *changeHub, *postRepoStub) {
	t.Helper()
	posts := noopPostRepo()
	posts.listFn = func(context.Context, int) ([]*models.Post, error) {
		return []*models.Post{{ID: 1, UserID: 2, Title: "a"}}, nil
	}
	assembler := feed.NewAssembler(posts, &savedRepoStub{}, feed.NewEnricher(nil, nil, 0, 0), nil, feed.Options{})
	hub := newChangeHub()
	return NewFeedService(assembler, hub, true), hub, posts
}

func TestFeedService_Snapshot(t *testing.T) {
	t.Parallel()

	svc, _, _ := newFeedFixture(t)

	_, err := svc.Snapshot(context.Background(), models.Session{}, FeedQuery{})
	assertCode(t, err, models.CodeUnauthorized)

	_, err = svc.Snapshot(context.Background(), sessionFor(1), FeedQuery{View: feed.ViewUser})
	assertValidationError(t, err)

	snap, err := svc.Snapshot(context.Background(), sessionFor(1), FeedQuery{})
	require.NoError(t, err)
	assert.Equal(t, feed.ViewFeed, snap.View)
	assert.False(t, snap.GeoActive)
	require.Len(t, snap.Posts, 1)
}

func TestFeedService_SubscribeAndSignOut(t *testing.T) {
	t.Parallel()

	svc, hub, _ := newFeedFixture(t)
	var (
		mu    sync.Mutex
		snaps int
	)
	sink := func(feed.Snapshot) {
		mu.Lock()
		snaps++
		mu.Unlock()
	}
	seen := func() int {
		mu.Lock()
		defer mu.Unlock()
		return snaps
	}

	stream, err := svc.Subscribe(context.Background(), sessionFor(1), FeedQuery{}, sink)
	require.NoError(t, err)
	other, err := svc.Subscribe(context.Background(), sessionFor(2), FeedQuery{}, func(feed.Snapshot) {})
	require.NoError(t, err)
	defer other.Close()

	assert.Eventually(t, func() bool { return seen() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, svc.StreamCount())
	assert.Equal(t, 2, hub.count())

	before := seen()
	hub.emit()
	assert.Eventually(t, func() bool { return seen() > before }, 2*time.Second, 5*time.Millisecond)

	svc.HandleAuthState(AuthStateChange{UserID: 1, State: AuthSignedOut})
	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed on sign out")
	}
	assert.Equal(t, 1, svc.StreamCount())
	assert.Equal(t, 1, hub.count())

	stream.Close()
	svc.HandleAuthState(AuthStateChange{UserID: 2, State: AuthSignedIn})
	assert.Equal(t, 1, svc.StreamCount())
}
