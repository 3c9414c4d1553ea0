package repository

import (
	"context"
	"errors"
	"time"

	"cuisine/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SavedPostRepository stores the per-user mirror written when a post is liked.
type SavedPostRepository interface {
	Save(ctx context.Context, userID, postID uint, at time.Time) error
	Remove(ctx context.Context, userID, postID uint) error
	Exists(ctx context.Context, userID, postID uint) (bool, error)
	ListPostIDs(ctx context.Context, userID uint, limit int) ([]uint, error)
}

type savedPostRepository struct {
	db *gorm.DB
}

// NewSavedPostRepository returns a SavedPostRepository backed by db.
func NewSavedPostRepository(db *gorm.DB) SavedPostRepository {
	return &savedPostRepository{db: db}
}

func (r *savedPostRepository) Save(ctx context.Context, userID, postID uint, at time.Time) error {
	saved := models.SavedPost{UserID: userID, PostID: postID, SavedAt: at.UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&saved).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *savedPostRepository) Remove(ctx context.Context, userID, postID uint) error {
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(&models.SavedPost{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *savedPostRepository) Exists(ctx context.Context, userID, postID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SavedPost{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

// ListPostIDs returns saved post ids, most recently saved first.
func (r *savedPostRepository) ListPostIDs(ctx context.Context, userID uint, limit int) ([]uint, error) {
	var ids []uint
	err := readDB(r.db).WithContext(ctx).Model(&models.SavedPost{}).
		Where("user_id = ?", userID).
		Order("saved_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

// FavoriteRepository stores per-user restaurant snapshots.
type FavoriteRepository interface {
	Get(ctx context.Context, userID uint, placeID string) (*models.FavoriteRestaurant, error)
	Exists(ctx context.Context, userID uint, placeID string) (bool, error)
	Upsert(ctx context.Context, fav *models.FavoriteRestaurant) error
	Delete(ctx context.Context, userID uint, placeID string) error
	ListByUser(ctx context.Context, userID uint) ([]models.FavoriteRestaurant, error)
}

type favoriteRepository struct {
	db *gorm.DB
}

// NewFavoriteRepository returns a FavoriteRepository backed by db.
func NewFavoriteRepository(db *gorm.DB) FavoriteRepository {
	return &favoriteRepository{db: db}
}

func (r *favoriteRepository) Get(ctx context.Context, userID uint, placeID string) (*models.FavoriteRestaurant, error) {
	var fav models.FavoriteRestaurant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND place_id = ?", userID, placeID).
		First(&fav).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Favorite", placeID)
		}
		return nil, models.NewInternalError(err)
	}
	return &fav, nil
}

func (r *favoriteRepository) Exists(ctx context.Context, userID uint, placeID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.FavoriteRestaurant{}).
		Where("user_id = ? AND place_id = ?", userID, placeID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

// Upsert creates the favorite or refreshes its snapshot fields.
func (r *favoriteRepository) Upsert(ctx context.Context, fav *models.FavoriteRestaurant) error {
	if fav.Timestamp.IsZero() {
		fav.Timestamp = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "place_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "address", "rating", "photo_reference", "latitude", "longitude", "timestamp"}),
		}).
		Create(fav).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *favoriteRepository) Delete(ctx context.Context, userID uint, placeID string) error {
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND place_id = ?", userID, placeID).
		Delete(&models.FavoriteRestaurant{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// ListByUser returns favorites, most recently favorited first.
func (r *favoriteRepository) ListByUser(ctx context.Context, userID uint) ([]models.FavoriteRestaurant, error) {
	var favs []models.FavoriteRestaurant
	err := readDB(r.db).WithContext(ctx).
		Where("user_id = ?", userID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Order("id DESC").
		Find(&favs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return favs, nil
}
