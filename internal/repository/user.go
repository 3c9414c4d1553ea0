package repository

import (
	"context"
	"errors"
	"strings"

	"cuisine/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id uint, hash string) error
	SetNotificationsEnabled(ctx context.Context, id uint, enabled bool) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// lookup reads one user from the primary so a signup is visible to the
// login that follows it. A miss yields nil, nil.
func (r *userRepository) lookup(ctx context.Context, column, value string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where(column+" = ?", value).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := readDB(r.db).WithContext(ctx).Take(&user, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, models.NewNotFoundError("User", id)
	case err != nil:
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

// GetByEmail matches case-insensitively. It returns nil, nil when no user
// has the address.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.lookup(ctx, "email", normalizeEmail(email))
}

// GetByUsername returns nil, nil when the username is free.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.lookup(ctx, "username", username)
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = normalizeEmail(user.Email)
	err := r.db.WithContext(ctx).Create(user).Error
	switch {
	case isUniqueConstraintError(err):
		return models.NewConflictError("Email or username already in use")
	case err != nil:
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	err := r.setColumns(ctx, user.ID, map[string]any{
		"username": user.Username,
		"bio":      user.Bio,
		"phone":    user.Phone,
	})
	if isUniqueConstraintError(errors.Unwrap(err)) {
		return models.NewConflictError("Username already taken")
	}
	return err
}

func (r *userRepository) UpdatePassword(ctx context.Context, id uint, hash string) error {
	return r.setColumns(ctx, id, map[string]any{"password": hash})
}

func (r *userRepository) SetNotificationsEnabled(ctx context.Context, id uint, enabled bool) error {
	return r.setColumns(ctx, id, map[string]any{"notifications_enabled": enabled})
}

// setColumns writes cols on one user row. Map updates keep zero values such
// as an empty bio or a false permission.
func (r *userRepository) setColumns(ctx context.Context, id uint, cols map[string]any) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(cols).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
