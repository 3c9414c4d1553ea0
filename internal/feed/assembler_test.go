package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"cuisine/internal/cache"
	"cuisine/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func postIDs(s Snapshot) []uint {
	out := make([]uint, 0, len(s.Posts))
	for _, p := range s.Posts {
		out = append(out, p.ID)
	}
	return out
}

func TestParseView(t *testing.T) {
	t.Parallel()
	v, err := ParseView("")
	require.NoError(t, err)
	assert.Equal(t, ViewFeed, v)

	v, err = ParseView("saved")
	require.NoError(t, err)
	assert.Equal(t, ViewSaved, v)

	_, err = ParseView("trending")
	assert.True(t, models.HasCode(err, models.CodeValidation))
}

func TestAssembler_GeoFeed(t *testing.T) {
	t.Parallel()
	posts := &stubPosts{listFn: func(context.Context, int) ([]*models.Post, error) {
		return []*models.Post{
			locatedPost(1, 10),
			locatedPost(2, 50),
			locatedPost(3, 5),
			{ID: 4, UserID: 1, Date: "2024-05-01"},
		}, nil
	}}
	a := NewAssembler(posts, &stubSaved{}, NewEnricher(&stubAuthors{}, nil, time.Hour, 2), nil, Options{RadiusKm: 40})

	snap, err := a.Assemble(context.Background(), Request{View: ViewFeed, Viewer: origin, ViewerID: 7})
	require.NoError(t, err)
	assert.True(t, snap.GeoActive)
	assert.Equal(t, 40.0, snap.RadiusKm)
	assert.Equal(t, []uint{3, 1}, postIDs(snap))
}

func TestAssembler_NonGeoViewsKeepUnlocatedPosts(t *testing.T) {
	t.Parallel()
	all := []*models.Post{
		locatedPost(1, 50),
		{ID: 2, UserID: 1, Date: "2024-05-03"},
	}
	posts := &stubPosts{
		listFn: func(context.Context, int) ([]*models.Post, error) { return all, nil },
		listByUserFn: func(_ context.Context, userID uint, _ int) ([]*models.Post, error) {
			assert.Equal(t, uint(9), userID)
			return all, nil
		},
		listByIDsFn: func(_ context.Context, ids []uint) ([]*models.Post, error) {
			assert.Equal(t, []uint{2, 1}, ids)
			return all, nil
		},
	}
	saved := &stubSaved{listPostIDsFn: func(context.Context, uint, int) ([]uint, error) {
		return []uint{2, 1}, nil
	}}
	a := NewAssembler(posts, saved, NewEnricher(&stubAuthors{}, nil, time.Hour, 2), nil, Options{})

	tests := []struct {
		name string
		req  Request
	}{
		{"feed without location", Request{View: ViewFeed, ViewerID: 9}},
		{"journal", Request{View: ViewJournal, ViewerID: 9, Viewer: origin}},
		{"user", Request{View: ViewUser, ViewerID: 1, SubjectID: 9, Viewer: origin}},
		{"saved", Request{View: ViewSaved, ViewerID: 9, Viewer: origin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap, err := a.Assemble(context.Background(), tt.req)
			require.NoError(t, err)
			assert.False(t, snap.GeoActive)
			assert.Equal(t, []uint{2, 1}, postIDs(snap))
		})
	}
}

func TestAssembler_ReadFailureDegrades(t *testing.T) {
	t.Parallel()
	posts := &stubPosts{listFn: func(context.Context, int) ([]*models.Post, error) {
		return nil, errors.New("connection refused")
	}}
	a := NewAssembler(posts, &stubSaved{}, NewEnricher(&stubAuthors{}, nil, time.Hour, 2), nil, Options{})

	snap, err := a.Assemble(context.Background(), Request{View: ViewFeed})
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	assert.Empty(t, snap.Posts)
}

func TestAssembler_CancelledPassReturnsError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	posts := &stubPosts{listFn: func(context.Context, int) ([]*models.Post, error) {
		cancel()
		return []*models.Post{{ID: 1}}, nil
	}}
	a := NewAssembler(posts, &stubSaved{}, NewEnricher(&stubAuthors{}, nil, time.Hour, 2), nil, Options{})

	_, err := a.Assemble(ctx, Request{View: ViewFeed})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembler_SnapshotCache(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	posts := &stubPosts{listFn: func(context.Context, int) ([]*models.Post, error) {
		return []*models.Post{locatedPost(1, 3)}, nil
	}}
	a := NewAssembler(posts, &stubSaved{}, NewEnricher(&stubAuthors{}, nil, time.Hour, 2), rdb, Options{CacheTTL: time.Minute})
	req := Request{View: ViewFeed, Viewer: origin, ViewerID: 2}

	first, err := a.Assemble(ctx, req)
	require.NoError(t, err)
	second, err := a.Assemble(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, posts.count())
	assert.Equal(t, postIDs(first), postIDs(second))

	a.Invalidate(ctx, req)
	_, err = a.Assemble(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, posts.count())

	cache.BumpFeedGeneration(ctx, rdb)
	snap, err := a.Assemble(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, posts.count())
	assert.Equal(t, int64(1), snap.Generation)

	moved := req
	moved.Viewer = locatedPost(0, 20).Location()
	_, err = a.Assemble(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, 4, posts.count(), "a different viewer location is a different snapshot")
}

func TestAssembler_DegradedSnapshotNotCached(t *testing.T) {
	rdb := newTestRedis(t)
	fail := true
	posts := &stubPosts{listFn: func(context.Context, int) ([]*models.Post, error) {
		if fail {
			return nil, errors.New("timeout")
		}
		return []*models.Post{{ID: 1, Date: "2024-05-01"}}, nil
	}}
	a := NewAssembler(posts, &stubSaved{}, NewEnricher(&stubAuthors{}, nil, time.Hour, 2), rdb, Options{CacheTTL: time.Minute})

	snap, err := a.Assemble(context.Background(), Request{View: ViewFeed})
	require.NoError(t, err)
	assert.True(t, snap.Degraded)

	fail = false
	snap, err = a.Assemble(context.Background(), Request{View: ViewFeed})
	require.NoError(t, err)
	assert.False(t, snap.Degraded)
	assert.Equal(t, []uint{1}, postIDs(snap))
}
