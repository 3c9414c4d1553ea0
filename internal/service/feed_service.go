package service

import (
	"context"
	"sync"

	"cuisine/internal/feed"
	"cuisine/internal/geo"
	"cuisine/internal/models"
	"cuisine/internal/notifications"
)

// FeedChangeSource delivers feed change notifications.
type FeedChangeSource interface {
	OnFeedChange(fn func(notifications.FeedChange)) (unsubscribe func())
}

// FeedQuery is a one-shot feed request from the HTTP layer.
type FeedQuery struct {
	View      feed.View
	SubjectID uint
	Viewer    *geo.Coordinate
	RadiusKm  float64
}

// FeedService serves assembled feeds and tracks live subscriptions so that
// signing out closes them.
type FeedService struct {
	assembler         *feed.Assembler
	changes           FeedChangeSource
	invalidateOnFocus bool

	mu      sync.Mutex
	streams map[uint]map[*FeedStream]struct{}
}

func NewFeedService(assembler *feed.Assembler, changes FeedChangeSource, invalidateOnFocus bool) *FeedService {
	return &FeedService{
		assembler:         assembler,
		changes:           changes,
		invalidateOnFocus: invalidateOnFocus,
		streams:           make(map[uint]map[*FeedStream]struct{}),
	}
}

func (s *FeedService) request(session models.Session, q FeedQuery) (feed.Request, error) {
	if !session.Authenticated() {
		return feed.Request{}, models.NewUnauthorizedError("Authentication required")
	}
	if q.View == "" {
		q.View = feed.ViewFeed
	}
	if q.View == feed.ViewUser && q.SubjectID == 0 {
		return feed.Request{}, models.NewValidationError("User ID is required")
	}
	if q.RadiusKm < 0 {
		return feed.Request{}, models.NewValidationError("radius must be positive")
	}
	return feed.Request{
		View:      q.View,
		ViewerID:  session.UserID,
		SubjectID: q.SubjectID,
		Viewer:    q.Viewer,
		RadiusKm:  q.RadiusKm,
	}, nil
}

// Snapshot assembles one feed view for the caller.
func (s *FeedService) Snapshot(ctx context.Context, session models.Session, q FeedQuery) (feed.Snapshot, error) {
	req, err := s.request(session, q)
	if err != nil {
		return feed.Snapshot{}, err
	}
	return s.assembler.Assemble(ctx, req)
}

// FeedStream is a live feed subscription owned by one connection.
type FeedStream struct {
	*feed.Subscription
	userID uint
	cancel context.CancelFunc
	ctx    context.Context
	owner  *FeedService
	once   sync.Once
}

// Done is closed when the stream ends, including when its user signs out.
func (f *FeedStream) Done() <-chan struct{} {
	return f.ctx.Done()
}

// Close stops the subscription. It is safe to call more than once.
func (f *FeedStream) Close() {
	f.once.Do(func() {
		f.cancel()
		f.Subscription.Unsubscribe()
		f.owner.forget(f)
	})
}

// Subscribe starts a live feed for the caller. sink receives every settled
// snapshot and must not call back into the stream.
func (s *FeedService) Subscribe(ctx context.Context, session models.Session, q FeedQuery, sink func(feed.Snapshot)) (*FeedStream, error) {
	req, err := s.request(session, q)
	if err != nil {
		return nil, err
	}

	var source feed.ChangeSource
	if s.changes != nil {
		source = feed.ChangeSourceFunc(func(fn func()) func() {
			return s.changes.OnFeedChange(func(notifications.FeedChange) { fn() })
		})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &FeedStream{
		Subscription: feed.NewSubscription(s.assembler, source, req, s.invalidateOnFocus, sink),
		userID:       session.UserID,
		cancel:       cancel,
		ctx:          streamCtx,
		owner:        s,
	}

	s.mu.Lock()
	if s.streams[session.UserID] == nil {
		s.streams[session.UserID] = make(map[*FeedStream]struct{})
	}
	s.streams[session.UserID][stream] = struct{}{}
	s.mu.Unlock()

	stream.Start(streamCtx)
	return stream, nil
}

func (s *FeedService) forget(f *FeedStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams[f.userID], f)
	if len(s.streams[f.userID]) == 0 {
		delete(s.streams, f.userID)
	}
}

// CloseUser ends every stream owned by userID.
func (s *FeedService) CloseUser(userID uint) {
	s.mu.Lock()
	streams := make([]*FeedStream, 0, len(s.streams[userID]))
	for f := range s.streams[userID] {
		streams = append(streams, f)
	}
	s.mu.Unlock()

	for _, f := range streams {
		f.Close()
	}
}

// StreamCount reports the number of open streams.
func (s *FeedService) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.streams {
		n += len(set)
	}
	return n
}

// HandleAuthState closes a user's streams when they sign out. Register it
// with AuthService.OnAuthStateChanged.
func (s *FeedService) HandleAuthState(change AuthStateChange) {
	if change.State == AuthSignedOut {
		s.CloseUser(change.UserID)
	}
}
