package feed

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"cuisine/internal/geo"
)

// ChangeSource announces that feed data changed.
type ChangeSource interface {
	OnChange(fn func()) (unsubscribe func())
}

// ChangeSourceFunc adapts a registration function to ChangeSource.
type ChangeSourceFunc func(fn func()) (unsubscribe func())

func (f ChangeSourceFunc) OnChange(fn func()) func() { return f(fn) }

// Subscription keeps one viewer's feed current. Every change notification
// cancels the assembly in flight and starts a new one; only a pass that runs
// to completion reaches the sink.
type Subscription struct {
	assembler         *Assembler
	source            ChangeSource
	sink              func(Snapshot)
	invalidateOnFocus bool

	mu      sync.Mutex
	req     Request
	latest  uint64
	trigger chan struct{}

	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	stopOnce    sync.Once
}

// NewSubscription prepares a subscription for req. Call Start to run it.
func NewSubscription(a *Assembler, source ChangeSource, req Request, invalidateOnFocus bool, sink func(Snapshot)) *Subscription {
	return &Subscription{
		assembler:         a,
		source:            source,
		sink:              sink,
		invalidateOnFocus: invalidateOnFocus,
		req:               req,
		trigger:           make(chan struct{}, 1),
		done:              make(chan struct{}),
	}
}

// Start registers for changes and assembles the first snapshot.
func (s *Subscription) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if s.source != nil {
		s.unsubscribe = s.source.OnChange(s.Refresh)
	}
	go s.run(ctx)
	s.Refresh()
}

// Refresh schedules a reassembly. Pending requests coalesce.
func (s *Subscription) Refresh() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Focus records the viewer's current location and reassembles. With
// invalidate-on-focus enabled the cached snapshot is discarded first.
func (s *Subscription) Focus(ctx context.Context, viewer *geo.Coordinate) {
	s.mu.Lock()
	s.req.Viewer = viewer
	req := s.req
	s.mu.Unlock()

	if s.invalidateOnFocus {
		s.assembler.Invalidate(ctx, req)
	}
	s.Refresh()
}

// Request returns the current request.
func (s *Subscription) Request() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

// Unsubscribe stops the subscription and waits for in-flight work. It is
// safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}

func (s *Subscription) run(ctx context.Context) {
	var (
		wg       sync.WaitGroup
		inflight context.CancelFunc
	)
	defer func() {
		if inflight != nil {
			inflight()
		}
		wg.Wait()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			if inflight != nil {
				inflight()
			}
			passCtx, cancel := context.WithCancel(ctx)
			inflight = cancel

			s.mu.Lock()
			s.latest++
			seq := s.latest
			req := s.req
			s.mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				s.pass(passCtx, seq, req)
			}()
		}
	}
}

func (s *Subscription) pass(ctx context.Context, seq uint64, req Request) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in feed subscription", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	snap, err := s.assembler.Assemble(ctx, req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.WarnContext(ctx, "feed assembly failed", slog.String("error", err.Error()))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || seq != s.latest {
		return
	}
	s.sink(snap)
}
