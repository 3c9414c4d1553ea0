package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/repository"
	"cuisine/internal/validation"
)

const (
	DefaultReminderPoll        = 5 * time.Second
	DefaultReminderMaxAttempts = 5
	reminderBatchSize          = 50
	reminderStaleAfter         = 10 * time.Minute
	reminderRetryBase          = 30 * time.Second
)

// PermissionChecker reports whether a user granted notification permission.
type PermissionChecker interface {
	NotificationsEnabled(ctx context.Context, userID uint) (bool, error)
}

type ScheduleReminderInput struct {
	FireAt time.Time `json:"fire_at"`
	Note   string    `json:"note"`
}

type ReminderService struct {
	reminders   repository.ReminderRepository
	favorites   repository.FavoriteRepository
	places      PlaceLookup
	permissions PermissionChecker
	dispatcher  notifications.ReminderDispatcher
	poll        time.Duration
	maxAttempts int
	now         func() time.Time
	workerOnce  sync.Once
}

func NewReminderService(
	reminders repository.ReminderRepository,
	favorites repository.FavoriteRepository,
	placeLookup PlaceLookup,
	permissions PermissionChecker,
	dispatcher notifications.ReminderDispatcher,
	poll time.Duration,
	maxAttempts int,
) *ReminderService {
	if poll <= 0 {
		poll = DefaultReminderPoll
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultReminderMaxAttempts
	}
	return &ReminderService{
		reminders:   reminders,
		favorites:   favorites,
		places:      placeLookup,
		permissions: permissions,
		dispatcher:  dispatcher,
		poll:        poll,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Schedule creates a reminder to visit placeID. The caller must have granted
// notification permission.
func (s *ReminderService) Schedule(ctx context.Context, session models.Session, placeID string, in ScheduleReminderInput) (*models.Reminder, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, models.NewValidationError("Place ID is required")
	}
	if in.FireAt.IsZero() || !in.FireAt.After(s.now()) {
		return nil, models.NewValidationError("fire_at must be in the future")
	}
	note := strings.TrimSpace(in.Note)
	if len(note) > validation.MaxReminderLen {
		return nil, models.NewValidationError(fmt.Sprintf("note must be at most %d characters", validation.MaxReminderLen))
	}

	granted, err := s.permissions.NotificationsEnabled(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, models.NewPermissionDeniedError("Notification permission has not been granted")
	}

	name, err := s.restaurantName(ctx, session.UserID, placeID)
	if err != nil {
		return nil, err
	}

	reminder := &models.Reminder{
		UserID:         session.UserID,
		PlaceID:        placeID,
		RestaurantName: name,
		Title:          "Time to visit " + name,
		Body:           note,
		FireAt:         in.FireAt.UTC(),
		Status:         models.ReminderPending,
	}
	if reminder.Body == "" {
		reminder.Body = "You saved " + name + ". Tap to see the details."
	}
	if err := s.reminders.Create(ctx, reminder); err != nil {
		return nil, err
	}
	return reminder, nil
}

func (s *ReminderService) restaurantName(ctx context.Context, userID uint, placeID string) (string, error) {
	fav, err := s.favorites.Get(ctx, userID, placeID)
	if err == nil && fav.Name != "" {
		return fav.Name, nil
	}
	if err != nil && !models.HasCode(err, models.CodeNotFound) {
		return "", err
	}

	place, err := s.places.Details(ctx, placeID)
	if err != nil {
		return "", placeLookupError(placeID, err)
	}
	return place.Name, nil
}

// List returns the caller's reminders.
func (s *ReminderService) List(ctx context.Context, session models.Session) ([]models.Reminder, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	return s.reminders.ListByUser(ctx, session.UserID)
}

// Cancel cancels one of the caller's pending reminders.
func (s *ReminderService) Cancel(ctx context.Context, session models.Session, id uint) error {
	if !session.Authenticated() {
		return models.NewUnauthorizedError("Authentication required")
	}
	return s.reminders.Cancel(ctx, id, session.UserID)
}

// StartDispatcher runs the delivery loop until ctx is cancelled. Repeated
// calls start at most one loop.
func (s *ReminderService) StartDispatcher(ctx context.Context) {
	if s.dispatcher == nil {
		return
	}
	s.workerOnce.Do(func() {
		go s.RunDispatcher(ctx)
	})
}

// RunDispatcher claims due reminders and delivers them until ctx is done.
func (s *ReminderService) RunDispatcher(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("reminder dispatcher panicked", slog.Any("panic", r))
		}
	}()

	s.requeueStale(ctx)
	lastRequeue := s.now()

	for {
		if ctx.Err() != nil {
			return
		}
		if s.now().Sub(lastRequeue) >= time.Minute {
			s.requeueStale(ctx)
			lastRequeue = s.now()
		}

		n, err := s.DispatchDue(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "reminder claim failed", slog.String("error", err.Error()))
		}
		if n == 0 || err != nil {
			if !sleepContext(ctx, s.poll) {
				return
			}
		}
	}
}

func (s *ReminderService) requeueStale(ctx context.Context) {
	n, err := s.reminders.RequeueStaleProcessing(ctx, reminderStaleAfter)
	if err != nil {
		slog.WarnContext(ctx, "requeue stale reminders failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "requeued stale reminders", slog.Int64("count", n))
	}
}

// DispatchDue delivers one batch of due reminders and returns how many were
// claimed.
func (s *ReminderService) DispatchDue(ctx context.Context) (int, error) {
	due, err := s.reminders.ClaimDue(ctx, s.now(), reminderBatchSize)
	if err != nil {
		return 0, err
	}
	for i := range due {
		s.deliver(ctx, &due[i])
	}
	return len(due), nil
}

func (s *ReminderService) deliver(ctx context.Context, r *models.Reminder) {
	err := s.dispatcher.Dispatch(ctx, r.Payload())
	if err == nil {
		if merr := s.reminders.MarkSent(ctx, r.ID, s.now()); merr != nil {
			slog.ErrorContext(ctx, "mark reminder sent failed", slog.Uint64("reminder_id", uint64(r.ID)), slog.String("error", merr.Error()))
		}
		return
	}

	var retryAt *time.Time
	if r.Attempts < s.maxAttempts {
		at := s.now().Add(retryBackoff(r.Attempts))
		retryAt = &at
	}
	slog.WarnContext(ctx, "reminder delivery failed",
		slog.Uint64("reminder_id", uint64(r.ID)),
		slog.Int("attempt", r.Attempts),
		slog.Bool("retry", retryAt != nil),
		slog.String("error", err.Error()),
	)
	if merr := s.reminders.MarkFailed(ctx, r.ID, err.Error(), retryAt); merr != nil {
		slog.ErrorContext(ctx, "mark reminder failed failed", slog.Uint64("reminder_id", uint64(r.ID)), slog.String("error", merr.Error()))
	}
}

// retryBackoff doubles from reminderRetryBase per attempt, capped at one hour.
func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := reminderRetryBase
	for i := 1; i < attempt && d < time.Hour; i++ {
		d *= 2
	}
	return min(d, time.Hour)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
