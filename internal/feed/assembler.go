package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cuisine/internal/cache"
	"cuisine/internal/geo"
	"cuisine/internal/models"
	"cuisine/internal/observability"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// View selects which posts a feed contains.
type View string

const (
	// ViewFeed is the public feed. It is geo-filtered when the viewer's
	// location is known.
	ViewFeed View = "feed"
	// ViewJournal lists the viewer's own posts.
	ViewJournal View = "journal"
	// ViewUser lists another user's posts.
	ViewUser View = "user"
	// ViewSaved lists posts the viewer liked.
	ViewSaved View = "saved"
)

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewFeed, ViewJournal, ViewUser, ViewSaved:
		return v, nil
	case "":
		return ViewFeed, nil
	default:
		return "", models.NewValidationError(fmt.Sprintf("unknown feed view %q", s))
	}
}

// PostSource reads posts for the assembler.
type PostSource interface {
	List(ctx context.Context, limit int) ([]*models.Post, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]*models.Post, error)
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Post, error)
}

// SavedSource lists the posts a user has saved.
type SavedSource interface {
	ListPostIDs(ctx context.Context, userID uint, limit int) ([]uint, error)
}

// Request describes one feed build.
type Request struct {
	View     View
	ViewerID uint
	// SubjectID is the user whose posts ViewUser lists.
	SubjectID uint
	Viewer    *geo.Coordinate
	// RadiusKm overrides the configured radius when positive.
	RadiusKm float64
}

// GeoActive reports whether the request is filtered and ranked by distance.
func (r Request) GeoActive() bool {
	return r.View == ViewFeed && r.Viewer.Valid()
}

func (r Request) cacheView(radius float64) string {
	view := string(r.View)
	if r.View == ViewUser {
		view = fmt.Sprintf("%s:%d", view, r.SubjectID)
	}
	if r.Viewer.Valid() {
		view = fmt.Sprintf("%s:%.3f,%.3f", view, r.Viewer.Lat, r.Viewer.Lng)
		if r.GeoActive() {
			view = fmt.Sprintf("%s:r%g", view, radius)
		}
	}
	return view
}

// Snapshot is an assembled, ranked feed.
type Snapshot struct {
	View        View           `json:"view"`
	Posts       []EnrichedPost `json:"posts"`
	GeoActive   bool           `json:"geo_active"`
	RadiusKm    float64        `json:"radius_km,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
	Generation  int64          `json:"generation"`
	AssembledAt time.Time      `json:"assembled_at"`
}

// Options tunes the assembler.
type Options struct {
	RadiusKm float64
	MaxPosts int
	CacheTTL time.Duration
}

// Assembler runs the load, enrich, filter and rank pipeline, caching
// snapshots per view, viewer and feed generation.
type Assembler struct {
	posts    PostSource
	saved    SavedSource
	enricher *Enricher
	rdb      redis.Cmdable
	opts     Options
}

// NewAssembler returns an Assembler. rdb may be nil to disable snapshot caching.
func NewAssembler(posts PostSource, saved SavedSource, enricher *Enricher, rdb redis.Cmdable, opts Options) *Assembler {
	if opts.RadiusKm <= 0 {
		opts.RadiusKm = DefaultRadiusKm
	}
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = 200
	}
	return &Assembler{posts: posts, saved: saved, enricher: enricher, rdb: rdb, opts: opts}
}

var errDegraded = errors.New("feed degraded")

// Assemble returns the snapshot for req. Read failures degrade to an empty
// snapshot with Degraded set; only cancellation of ctx is returned as an error.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Snapshot, error) {
	if req.View == "" {
		req.View = ViewFeed
	}
	radius := a.radius(req)

	if a.opts.CacheTTL <= 0 || a.rdb == nil {
		return a.build(ctx, req, radius, 0)
	}

	gen := cache.FeedGeneration(ctx, a.rdb)
	key := cache.FeedSnapshotKey(req.cacheView(radius), req.ViewerID, gen)

	var degraded Snapshot
	snap, err := cache.Aside(ctx, a.rdb, "feed", key, a.opts.CacheTTL, func(ctx context.Context) (Snapshot, error) {
		s, err := a.build(ctx, req, radius, gen)
		if err != nil {
			return s, err
		}
		if s.Degraded {
			degraded = s
			return s, errDegraded
		}
		return s, nil
	})
	if errors.Is(err, errDegraded) {
		return degraded, nil
	}
	return snap, err
}

// Invalidate drops the cached snapshot for req at the current generation.
func (a *Assembler) Invalidate(ctx context.Context, req Request) {
	if a.rdb == nil {
		return
	}
	if req.View == "" {
		req.View = ViewFeed
	}
	gen := cache.FeedGeneration(ctx, a.rdb)
	cache.Invalidate(ctx, a.rdb, cache.FeedSnapshotKey(req.cacheView(a.radius(req)), req.ViewerID, gen))
}

func (a *Assembler) radius(req Request) float64 {
	if req.RadiusKm > 0 {
		return req.RadiusKm
	}
	return a.opts.RadiusKm
}

func (a *Assembler) build(ctx context.Context, req Request, radius float64, gen int64) (snap Snapshot, err error) {
	done := observability.TrackFeedBuild(string(req.View))
	defer done()

	ctx, span := observability.StartSpan(ctx, "feed.build", trace.SpanKindInternal,
		attribute.String("feed.view", string(req.View)),
		attribute.Int64("feed.generation", gen),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("feed.posts", len(snap.Posts)),
			attribute.Bool("feed.degraded", snap.Degraded),
		)
		observability.EndSpan(span, err)
	}()

	snap = Snapshot{
		View:        req.View,
		GeoActive:   req.GeoActive(),
		Generation:  gen,
		AssembledAt: time.Now().UTC(),
		Posts:       []EnrichedPost{},
	}
	if snap.GeoActive {
		snap.RadiusKm = radius
	}

	posts, err := a.load(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return snap, ctxErr
		}
		slog.ErrorContext(ctx, "feed read failed",
			slog.String("view", string(req.View)),
			slog.String("error", err.Error()),
		)
		snap.Degraded = true
		return snap, nil
	}

	enriched := a.enricher.Enrich(ctx, posts, req.Viewer, req.ViewerID)
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	if snap.GeoActive {
		enriched = FilterByRadius(enriched, radius)
	}
	Rank(enriched, snap.GeoActive)
	snap.Posts = enriched
	return snap, nil
}

func (a *Assembler) load(ctx context.Context, req Request) ([]*models.Post, error) {
	switch req.View {
	case ViewFeed:
		return a.posts.List(ctx, a.opts.MaxPosts)
	case ViewJournal:
		return a.posts.ListByUser(ctx, req.ViewerID, a.opts.MaxPosts)
	case ViewUser:
		return a.posts.ListByUser(ctx, req.SubjectID, a.opts.MaxPosts)
	case ViewSaved:
		ids, err := a.saved.ListPostIDs(ctx, req.ViewerID, a.opts.MaxPosts)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		return a.posts.ListByIDs(ctx, ids)
	default:
		return nil, fmt.Errorf("unknown feed view %q", req.View)
	}
}
