package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cuisine/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ToggleStep is one write of a toggle command and its inverse.
type ToggleStep struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// ToggleCommand moves a binary relation (liked, favorited) to Desired.
type ToggleCommand struct {
	Kind    string
	Key     string
	Desired bool
	// Current reads the authoritative state before any step runs.
	Current func(ctx context.Context) (bool, error)
	Steps   []ToggleStep
}

// ToggleResult reports what a command did.
type ToggleResult struct {
	Applied bool
}

// ToggleError is returned when a step failed. RolledBack is true when every
// completed step was compensated.
type ToggleError struct {
	Step       string
	RolledBack bool
	Err        error
}

func (e *ToggleError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("toggle step %q failed (rolled back): %v", e.Step, e.Err)
	}
	return fmt.Sprintf("toggle step %q failed: %v", e.Step, e.Err)
}

func (e *ToggleError) Unwrap() error { return e.Err }

// KeyedMutex serializes work per key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires key and returns its release function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Size reports how many keys are held or awaited.
func (k *KeyedMutex) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Toggler runs toggle commands.
type Toggler struct {
	locks *KeyedMutex
}

// NewToggler returns a Toggler with its own lock table.
func NewToggler() *Toggler {
	return &Toggler{locks: NewKeyedMutex()}
}

// Execute runs cmd under its key. When the current state already matches
// Desired nothing is written. If a step fails the completed steps are undone
// in reverse order.
func (t *Toggler) Execute(ctx context.Context, cmd ToggleCommand) (res ToggleResult, err error) {
	ctx, span := observability.StartSpan(ctx, "toggle."+cmd.Kind, trace.SpanKindInternal,
		attribute.Bool("toggle.desired", cmd.Desired),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("toggle.applied", res.Applied))
		observability.EndSpan(span, err)
	}()

	unlock := t.locks.Lock(cmd.Key)
	defer unlock()

	if cmd.Current != nil {
		current, err := cmd.Current(ctx)
		if err != nil {
			observability.ToggleOutcomes.WithLabelValues(cmd.Kind, "error").Inc()
			return ToggleResult{}, err
		}
		if current == cmd.Desired {
			observability.ToggleOutcomes.WithLabelValues(cmd.Kind, "noop").Inc()
			return ToggleResult{}, nil
		}
	}

	for i, step := range cmd.Steps {
		if err := step.Do(ctx); err != nil {
			undoErr := t.compensate(ctx, cmd, i)
			observability.ToggleOutcomes.WithLabelValues(cmd.Kind, "rolled_back").Inc()
			return ToggleResult{}, &ToggleError{
				Step:       step.Name,
				RolledBack: undoErr == nil,
				Err:        errors.Join(err, undoErr),
			}
		}
	}

	observability.ToggleOutcomes.WithLabelValues(cmd.Kind, "applied").Inc()
	return ToggleResult{Applied: true}, nil
}

// compensate undoes steps [0, failed) in reverse. A cancelled request must
// not prevent the rollback, so it runs without the caller's cancellation.
func (t *Toggler) compensate(ctx context.Context, cmd ToggleCommand, failed int) error {
	undoCtx := context.WithoutCancel(ctx)
	var errs []error
	for j := failed - 1; j >= 0; j-- {
		step := cmd.Steps[j]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(undoCtx); err != nil {
			slog.ErrorContext(ctx, "toggle compensation failed",
				slog.String("key", cmd.Key),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("undo %s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

// PostToggleKey names the lock for a user's like on a post.
func PostToggleKey(postID, userID uint) string {
	return fmt.Sprintf("post:%d:user:%d", postID, userID)
}

// RestaurantToggleKey names the lock for a user's favorite of a place.
func RestaurantToggleKey(placeID string, userID uint) string {
	return fmt.Sprintf("restaurant:%s:user:%d", placeID, userID)
}
