// Package feed assembles ranked post feeds: it enriches posts with distance,
// author and image URLs, filters them by radius and orders them.
package feed

import (
	"context"
	"strconv"
	"sync"
	"time"

	"cuisine/internal/geo"
	"cuisine/internal/models"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// SentinelDistanceKm stands in for the distance of an unlocated post.
	SentinelDistanceKm = 100.0
	// AnonymousAuthor is shown when the author cannot be resolved.
	AnonymousAuthor = "Anonymous"
	// PlaceholderImageURL replaces an image whose URL could not be resolved.
	PlaceholderImageURL = "https://placehold.co/400x400?text=Cuisine"
	// DefaultConcurrency bounds in-flight enrichments.
	DefaultConcurrency = 8
	// AuthorLookupTimeout caps one shared author lookup.
	AuthorLookupTimeout = 5 * time.Second
)

// EnrichedPost is a post plus the values computed for one viewer.
type EnrichedPost struct {
	models.Post
	Distance        float64  `json:"distance"`
	HasLocation     bool     `json:"has_location"`
	AuthorName      string   `json:"author_name"`
	ImageURLs       []string `json:"image_urls"`
	PrimaryImageURL string   `json:"primary_image_url"`
	LikesCount      int      `json:"likes_count"`
	Liked           bool     `json:"liked"`
}

// AuthorResolver looks up display names.
type AuthorResolver interface {
	Username(ctx context.Context, userID uint) (string, error)
}

// URLSigner turns a storage key into a fetchable URL.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Enricher computes EnrichedPost values with bounded concurrency.
type Enricher struct {
	authors     AuthorResolver
	signer      URLSigner
	urlTTL      time.Duration
	concurrency int
	lookups     singleflight.Group
}

// NewEnricher returns an Enricher. A non-positive concurrency uses
// DefaultConcurrency; signer may be nil, in which case every image gets the
// placeholder.
func NewEnricher(authors AuthorResolver, signer URLSigner, urlTTL time.Duration, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &Enricher{authors: authors, signer: signer, urlTTL: urlTTL, concurrency: concurrency}
}

// Enrich resolves every post for the viewer. It never fails: lookups that
// fail degrade to fallback values. When ctx is cancelled no further posts are
// dispatched and only completed results are returned. Output order is not
// guaranteed.
func (e *Enricher) Enrich(ctx context.Context, posts []*models.Post, viewer *geo.Coordinate, viewerID uint) []EnrichedPost {
	var (
		mu  sync.Mutex
		out = make([]EnrichedPost, 0, len(posts))
	)

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, p := range posts {
		if p == nil {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			ep := e.enrichOne(ctx, p, viewer, viewerID)
			mu.Lock()
			out = append(out, ep)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) enrichOne(ctx context.Context, p *models.Post, viewer *geo.Coordinate, viewerID uint) EnrichedPost {
	ep := EnrichedPost{
		Post:       *p,
		LikesCount: len(p.Likes),
		Liked:      p.IsLikedBy(viewerID),
	}
	loc := p.Location()
	ep.HasLocation = loc.Valid()
	ep.Distance, _ = geo.DistanceOr(loc, viewer, SentinelDistanceKm)
	ep.AuthorName = e.authorName(ctx, p.UserID)
	ep.ImageURLs = e.imageURLs(ctx, p.ImageKeys())
	if len(ep.ImageURLs) > 0 {
		ep.PrimaryImageURL = ep.ImageURLs[0]
	}
	return ep
}

func (e *Enricher) authorName(ctx context.Context, userID uint) string {
	if e.authors == nil || userID == 0 {
		return AnonymousAuthor
	}
	// The lookup is shared across passes, so it must not inherit the
	// cancellation of whichever caller started it.
	ch := e.lookups.DoChan(strconv.FormatUint(uint64(userID), 10), func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), AuthorLookupTimeout)
		defer cancel()
		return e.authors.Username(lookupCtx, userID)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return AnonymousAuthor
	}
	if res.Err != nil {
		return AnonymousAuthor
	}
	name, _ := res.Val.(string)
	if name == "" {
		return AnonymousAuthor
	}
	return name
}

func (e *Enricher) imageURLs(ctx context.Context, keys []string) []string {
	urls := make([]string, len(keys))
	for i, key := range keys {
		urls[i] = PlaceholderImageURL
		if e.signer == nil || key == "" {
			continue
		}
		if u, err := e.signer.PresignGet(ctx, key, e.urlTTL); err == nil && u != "" {
			urls[i] = u
		}
	}
	return urls
}
