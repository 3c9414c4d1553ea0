package repository

import (
	"context"
	"errors"
	"time"

	"cuisine/internal/models"

	"gorm.io/gorm"
)

// ReminderRepository stores scheduled reminders and hands due ones to the worker.
type ReminderRepository interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	GetByID(ctx context.Context, id uint) (*models.Reminder, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Reminder, error)
	Cancel(ctx context.Context, id, userID uint) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	MarkSent(ctx context.Context, id uint, at time.Time) error
	MarkFailed(ctx context.Context, id uint, errMsg string, retryAt *time.Time) error
	RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}

type reminderRepository struct {
	db *gorm.DB
}

// NewReminderRepository returns a ReminderRepository backed by db.
func NewReminderRepository(db *gorm.DB) ReminderRepository {
	return &reminderRepository{db: db}
}

func (r *reminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.Status == "" {
		reminder.Status = models.ReminderPending
	}
	if err := r.db.WithContext(ctx).Create(reminder).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *reminderRepository) GetByID(ctx context.Context, id uint) (*models.Reminder, error) {
	var reminder models.Reminder
	if err := r.db.WithContext(ctx).First(&reminder, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Reminder", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &reminder, nil
}

// ListByUser returns the user's reminders ordered by fire time.
func (r *reminderRepository) ListByUser(ctx context.Context, userID uint) ([]models.Reminder, error) {
	var reminders []models.Reminder
	err := readDB(r.db).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("fire_at ASC, id ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return reminders, nil
}

// Cancel marks a pending reminder owned by userID as cancelled.
func (r *reminderRepository) Cancel(ctx context.Context, id, userID uint) error {
	res := r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.ReminderPending).
		Update("status", models.ReminderCancelled)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Reminder", id)
	}
	return nil
}

// ClaimDue moves up to limit due pending reminders to processing and returns
// them. Concurrent workers never claim the same reminder.
func (r *reminderRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	if limit <= 0 {
		limit = 1
	}
	if r.db.Name() == "postgres" {
		var claimed []models.Reminder
		err := r.db.WithContext(ctx).Raw(`
WITH picked AS (
	SELECT id
	FROM reminders
	WHERE status = ? AND fire_at <= ?
	ORDER BY fire_at, id
	FOR UPDATE SKIP LOCKED
	LIMIT ?
)
UPDATE reminders r
SET status = ?,
    attempts = r.attempts + 1,
    updated_at = NOW()
FROM picked
WHERE r.id = picked.id
RETURNING r.*
`, models.ReminderPending, now.UTC(), limit, models.ReminderProcessing).Scan(&claimed).Error
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		return claimed, nil
	}

	// SQLite/MySQL fallback (best-effort atomicity).
	var claimed []models.Reminder
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.Reminder
		if err := tx.Where("status = ? AND fire_at <= ?", models.ReminderPending, now.UTC()).
			Order("fire_at ASC, id ASC").
			Limit(limit).
			Find(&due).Error; err != nil {
			return err
		}
		for i := range due {
			res := tx.Model(&models.Reminder{}).
				Where("id = ? AND status = ?", due[i].ID, models.ReminderPending).
				Updates(map[string]interface{}{
					"status":   models.ReminderProcessing,
					"attempts": gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			due[i].Status = models.ReminderProcessing
			due[i].Attempts++
			claimed = append(claimed, due[i])
		}
		return nil
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return claimed, nil
}

func (r *reminderRepository) MarkSent(ctx context.Context, id uint, at time.Time) error {
	sentAt := at.UTC()
	err := r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ReminderSent,
			"sent_at":    &sentAt,
			"last_error": "",
		}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// MarkFailed records a delivery failure. With retryAt the reminder goes back
// to pending at that time; without it the reminder is failed for good.
func (r *reminderRepository) MarkFailed(ctx context.Context, id uint, errMsg string, retryAt *time.Time) error {
	if len(errMsg) > 4000 {
		errMsg = errMsg[:4000]
	}
	updates := map[string]interface{}{
		"status":     models.ReminderFailed,
		"last_error": errMsg,
	}
	if retryAt != nil {
		updates["status"] = models.ReminderPending
		updates["fire_at"] = retryAt.UTC()
	}
	if err := r.db.WithContext(ctx).Model(&models.Reminder{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// RequeueStaleProcessing returns reminders stuck in processing (a worker died
// mid-delivery) to pending.
func (r *reminderRepository) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("status = ? AND updated_at < ?", models.ReminderProcessing, cutoff).
		Update("status", models.ReminderPending)
	return res.RowsAffected, res.Error
}
