package feed

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cuisine/internal/geo"
	"cuisine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthors struct {
	usernameFn func(ctx context.Context, userID uint) (string, error)
}

func (s *stubAuthors) Username(ctx context.Context, userID uint) (string, error) {
	if s.usernameFn != nil {
		return s.usernameFn(ctx, userID)
	}
	return "", nil
}

type stubSigner struct {
	presignFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (s *stubSigner) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.presignFn != nil {
		return s.presignFn(ctx, key, ttl)
	}
	return "https://cdn.test/" + key, nil
}

// kmNorth returns a coordinate d kilometres due north of the origin.
func kmNorth(d float64) (*float64, *float64) {
	lat := d / (geo.EarthRadiusKm * math.Pi / 180)
	lng := 0.0
	return &lat, &lng
}

func locatedPost(id uint, km float64) *models.Post {
	lat, lng := kmNorth(km)
	return &models.Post{ID: id, UserID: 1, Latitude: lat, Longitude: lng, Date: "2024-05-01"}
}

var origin = &geo.Coordinate{Lat: 0, Lng: 0}

func TestEnrich_Distances(t *testing.T) {
	t.Parallel()
	e := NewEnricher(&stubAuthors{}, nil, time.Hour, 4)

	unlocated := &models.Post{ID: 3, UserID: 1}
	out := e.Enrich(context.Background(), []*models.Post{locatedPost(1, 12), unlocated}, origin, 0)
	require.Len(t, out, 2)

	byID := map[uint]EnrichedPost{}
	for _, p := range out {
		byID[p.ID] = p
	}
	assert.True(t, byID[1].HasLocation)
	assert.InDelta(t, 12, byID[1].Distance, 1e-6)
	assert.False(t, byID[3].HasLocation)
	assert.Equal(t, SentinelDistanceKm, byID[3].Distance)

	// Without a viewer the distance is unknown but the post is still located.
	noViewer := e.Enrich(context.Background(), []*models.Post{locatedPost(1, 12), unlocated}, nil, 0)
	require.Len(t, noViewer, 2)
	for _, p := range noViewer {
		assert.Equal(t, SentinelDistanceKm, p.Distance)
		assert.Equal(t, p.ID == 1, p.HasLocation, "post %d", p.ID)
	}
}

func TestEnrich_AuthorFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		authors  AuthorResolver
		expected string
	}{
		{
			name: "resolved",
			authors: &stubAuthors{usernameFn: func(context.Context, uint) (string, error) {
				return "alice", nil
			}},
			expected: "alice",
		},
		{
			name: "lookup failure",
			authors: &stubAuthors{usernameFn: func(context.Context, uint) (string, error) {
				return "", errors.New("db down")
			}},
			expected: AnonymousAuthor,
		},
		{
			name:     "empty username",
			authors:  &stubAuthors{},
			expected: AnonymousAuthor,
		},
		{
			name: "missing user",
			authors: &stubAuthors{usernameFn: func(context.Context, uint) (string, error) {
				return "", models.NewNotFoundError("User", 1)
			}},
			expected: AnonymousAuthor,
		},
		{name: "no resolver", expected: AnonymousAuthor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewEnricher(tt.authors, nil, time.Hour, 2)
			out := e.Enrich(context.Background(), []*models.Post{{ID: 1, UserID: 1}}, nil, 0)
			require.Len(t, out, 1)
			assert.Equal(t, tt.expected, out[0].AuthorName)
		})
	}
}

func TestEnrich_ImageURLs(t *testing.T) {
	t.Parallel()
	signer := &stubSigner{presignFn: func(_ context.Context, key string, _ time.Duration) (string, error) {
		if key == "posts/1/broken.jpg" {
			return "", errors.New("presign failed")
		}
		return "https://cdn.test/" + key, nil
	}}
	e := NewEnricher(&stubAuthors{}, signer, time.Minute, 2)

	post := &models.Post{ID: 1, UserID: 1, Images: []models.PostImage{
		{Position: 0, StorageKey: "posts/1/a.jpg"},
		{Position: 1, StorageKey: "posts/1/broken.jpg"},
		{Position: 2, StorageKey: "posts/1/c.jpg"},
	}}
	out := e.Enrich(context.Background(), []*models.Post{post}, nil, 0)
	require.Len(t, out, 1)
	assert.Equal(t, []string{
		"https://cdn.test/posts/1/a.jpg",
		PlaceholderImageURL,
		"https://cdn.test/posts/1/c.jpg",
	}, out[0].ImageURLs)
	assert.Equal(t, "https://cdn.test/posts/1/a.jpg", out[0].PrimaryImageURL)

	unsigned := NewEnricher(&stubAuthors{}, nil, time.Minute, 2).Enrich(context.Background(), []*models.Post{post}, nil, 0)
	assert.Equal(t, []string{PlaceholderImageURL, PlaceholderImageURL, PlaceholderImageURL}, unsigned[0].ImageURLs)
}

func TestEnrich_LikesAndMembership(t *testing.T) {
	t.Parallel()
	e := NewEnricher(&stubAuthors{}, nil, time.Hour, 1)
	post := &models.Post{ID: 1, UserID: 2, Likes: []models.Like{{UserID: 4}, {UserID: 5}}}

	liked := e.Enrich(context.Background(), []*models.Post{post}, nil, 5)
	assert.Equal(t, 2, liked[0].LikesCount)
	assert.True(t, liked[0].Liked)

	anonymous := e.Enrich(context.Background(), []*models.Post{post}, nil, 0)
	assert.False(t, anonymous[0].Liked)
}

func TestEnrich_BoundedConcurrency(t *testing.T) {
	t.Parallel()
	var inFlight, peak atomic.Int32
	authors := &stubAuthors{usernameFn: func(context.Context, uint) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "bob", nil
	}}
	e := NewEnricher(authors, nil, time.Hour, 3)

	posts := make([]*models.Post, 20)
	for i := range posts {
		posts[i] = &models.Post{ID: uint(i + 1), UserID: uint(i + 1)}
	}
	out := e.Enrich(context.Background(), posts, nil, 0)
	assert.Len(t, out, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestEnrich_CoalescesAuthorLookups(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	release := make(chan struct{})
	authors := &stubAuthors{usernameFn: func(context.Context, uint) (string, error) {
		calls.Add(1)
		<-release
		return "carol", nil
	}}
	e := NewEnricher(authors, nil, time.Hour, 8)

	posts := make([]*models.Post, 8)
	for i := range posts {
		posts[i] = &models.Post{ID: uint(i + 1), UserID: 42}
	}

	done := make(chan []EnrichedPost)
	go func() { done <- e.Enrich(context.Background(), posts, nil, 0) }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	out := <-done
	require.Len(t, out, 8)
	for _, p := range out {
		assert.Equal(t, "carol", p.AuthorName)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnrich_SupersededPassDoesNotFailSharedLookup(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	authors := &stubAuthors{usernameFn: func(ctx context.Context, _ uint) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return "chef", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	e := NewEnricher(authors, nil, time.Hour, 2)
	post := &models.Post{ID: 1, UserID: 5}

	staleCtx, cancelStale := context.WithCancel(context.Background())
	stale := make(chan []EnrichedPost)
	go func() { stale <- e.Enrich(staleCtx, []*models.Post{post}, nil, 0) }()
	<-started

	live := make(chan []EnrichedPost)
	go func() { live <- e.Enrich(context.Background(), []*models.Post{post}, nil, 0) }()
	time.Sleep(20 * time.Millisecond)

	cancelStale()
	select {
	case out := <-stale:
		for _, p := range out {
			assert.Equal(t, AnonymousAuthor, p.AuthorName)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled pass did not return")
	}

	close(release)
	out := <-live
	require.Len(t, out, 1)
	assert.Equal(t, "chef", out[0].AuthorName)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnrich_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEnricher(&stubAuthors{}, nil, time.Hour, 2)
	out := e.Enrich(ctx, []*models.Post{{ID: 1}, {ID: 2}}, nil, 0)
	assert.Empty(t, out)
}

func TestFilterByRadius_Boundary(t *testing.T) {
	t.Parallel()
	posts := []EnrichedPost{
		{Post: models.Post{ID: 1}, HasLocation: true, Distance: 40},
		{Post: models.Post{ID: 2}, HasLocation: true, Distance: 40.0001},
		{Post: models.Post{ID: 3}, HasLocation: false, Distance: SentinelDistanceKm},
		{Post: models.Post{ID: 4}, HasLocation: true, Distance: 0},
	}
	out := FilterByRadius(posts, 40)

	ids := make([]uint, 0, len(out))
	for _, p := range out {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []uint{1, 4}, ids)
	assert.Len(t, posts, 4)
}

func TestRank(t *testing.T) {
	t.Parallel()

	ids := func(posts []EnrichedPost) []uint {
		out := make([]uint, 0, len(posts))
		for _, p := range posts {
			out = append(out, p.ID)
		}
		return out
	}

	tests := []struct {
		name      string
		geoActive bool
		posts     []EnrichedPost
		expected  []uint
	}{
		{
			name:      "likes tie broken by distance",
			geoActive: true,
			posts: []EnrichedPost{
				{Post: models.Post{ID: 1, Date: "2024-05-01"}, LikesCount: 5, Distance: 3},
				{Post: models.Post{ID: 2, Date: "2024-05-01"}, LikesCount: 5, Distance: 1},
			},
			expected: []uint{2, 1},
		},
		{
			name: "likes dominate distance",
			posts: []EnrichedPost{
				{Post: models.Post{ID: 1}, LikesCount: 1, Distance: 1},
				{Post: models.Post{ID: 2}, LikesCount: 9, Distance: 30},
			},
			geoActive: true,
			expected:  []uint{2, 1},
		},
		{
			name: "distance ignored when geo inactive",
			posts: []EnrichedPost{
				{Post: models.Post{ID: 1, Date: "2024-05-02"}, Distance: 30},
				{Post: models.Post{ID: 2, Date: "2024-05-01"}, Distance: 1},
			},
			expected: []uint{1, 2},
		},
		{
			name: "comments then id",
			posts: []EnrichedPost{
				{Post: models.Post{ID: 9, Date: "2024-05-01", CommentsCount: 1}},
				{Post: models.Post{ID: 3, Date: "2024-05-01", CommentsCount: 1}},
				{Post: models.Post{ID: 5, Date: "2024-05-01", CommentsCount: 4}},
			},
			expected: []uint{5, 3, 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			Rank(tt.posts, tt.geoActive)
			assert.Equal(t, tt.expected, ids(tt.posts))

			Rank(tt.posts, tt.geoActive)
			assert.Equal(t, tt.expected, ids(tt.posts), "ranking must be idempotent")
		})
	}
}

func TestPipeline_RadiusScenario(t *testing.T) {
	t.Parallel()
	e := NewEnricher(&stubAuthors{}, nil, time.Hour, 4)
	posts := []*models.Post{locatedPost(1, 10), locatedPost(2, 50), locatedPost(3, 5)}

	out := FilterByRadius(e.Enrich(context.Background(), posts, origin, 0), 40)
	Rank(out, true)

	require.Len(t, out, 2)
	assert.Equal(t, uint(3), out[0].ID)
	assert.InDelta(t, 5, out[0].Distance, 1e-6)
	assert.Equal(t, uint(1), out[1].ID)
	assert.InDelta(t, 10, out[1].Distance, 1e-6)
}

type stubPosts struct {
	mu           sync.Mutex
	calls        int
	listFn       func(ctx context.Context, limit int) ([]*models.Post, error)
	listByUserFn func(ctx context.Context, userID uint, limit int) ([]*models.Post, error)
	listByIDsFn  func(ctx context.Context, ids []uint) ([]*models.Post, error)
}

func (s *stubPosts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubPosts) hit() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *stubPosts) List(ctx context.Context, limit int) ([]*models.Post, error) {
	s.hit()
	if s.listFn != nil {
		return s.listFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubPosts) ListByUser(ctx context.Context, userID uint, limit int) ([]*models.Post, error) {
	s.hit()
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID, limit)
	}
	return nil, nil
}

func (s *stubPosts) ListByIDs(ctx context.Context, ids []uint) ([]*models.Post, error) {
	s.hit()
	if s.listByIDsFn != nil {
		return s.listByIDsFn(ctx, ids)
	}
	return nil, nil
}

type stubSaved struct {
	listPostIDsFn func(ctx context.Context, userID uint, limit int) ([]uint, error)
}

func (s *stubSaved) ListPostIDs(ctx context.Context, userID uint, limit int) ([]uint, error) {
	if s.listPostIDsFn != nil {
		return s.listPostIDsFn(ctx, userID, limit)
	}
	return nil, nil
}
