package service

import (
	"context"
	"strings"

	"cuisine/internal/cache"
	"cuisine/internal/feed"
	"cuisine/internal/models"
	"cuisine/internal/repository"
	"cuisine/internal/validation"

	"github.com/redis/go-redis/v9"
)

type UserService struct {
	userRepo repository.UserRepository
	rdb      redis.Cmdable
}

type UpdateProfileInput struct {
	Username string `json:"username"`
	Bio      string `json:"bio"`
	Phone    string `json:"phone"`
}

func NewUserService(userRepo repository.UserRepository, rdb redis.Cmdable) *UserService {
	return &UserService{userRepo: userRepo, rdb: rdb}
}

// GetUserByID returns a user, served from cache when possible.
func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return cache.Aside(ctx, s.rdb, "user", cache.UserKey(id), cache.UserTTL, func(ctx context.Context) (*models.User, error) {
		return s.userRepo.GetByID(ctx, id)
	})
}

// Username implements feed.AuthorResolver.
func (s *UserService) Username(ctx context.Context, userID uint) (string, error) {
	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// DisplayName returns the username or feed.AnonymousAuthor.
func (s *UserService) DisplayName(ctx context.Context, userID uint) string {
	name, err := s.Username(ctx, userID)
	if err != nil || name == "" {
		return feed.AnonymousAuthor
	}
	return name
}

// UpdateProfile replaces the caller's username, bio and phone. An empty
// username keeps the current one.
func (s *UserService) UpdateProfile(ctx context.Context, session models.Session, in UpdateProfileInput) (*models.User, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Bio = strings.TrimSpace(in.Bio)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Username != "" {
		if err := validation.ValidateUsername(in.Username); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
	}
	if err := validation.ValidateBio(in.Bio); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePhone(in.Phone); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if in.Username != "" {
		user.Username = in.Username
	}
	user.Bio = in.Bio
	user.Phone = in.Phone

	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	cache.InvalidateUser(ctx, s.rdb, user.ID)
	return user, nil
}

// SetNotificationsEnabled records the caller's notification permission.
func (s *UserService) SetNotificationsEnabled(ctx context.Context, session models.Session, enabled bool) (*models.User, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	if err := s.userRepo.SetNotificationsEnabled(ctx, session.UserID, enabled); err != nil {
		return nil, err
	}
	cache.InvalidateUser(ctx, s.rdb, session.UserID)
	return s.userRepo.GetByID(ctx, session.UserID)
}

// NotificationsEnabled reports the stored permission, reading through to the
// database so a stale cache never grants permission.
func (s *UserService) NotificationsEnabled(ctx context.Context, userID uint) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return false, models.NewUnauthorizedError("Account no longer exists")
		}
		return false, err
	}
	return user.NotificationsEnabled, nil
}
