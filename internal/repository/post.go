package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cuisine/internal/models"
	"cuisine/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	List(ctx context.Context, limit int) ([]*models.Post, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]*models.Post, error)
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
	IsLiked(ctx context.Context, userID, postID uint) (bool, error)
	CountLikes(ctx context.Context, postID uint) (int64, error)
	Like(ctx context.Context, userID, postID uint) error
	Unlike(ctx context.Context, userID, postID uint) error
}

// postRepository implements PostRepository
type postRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, log: observability.NewRepoLogger("posts")}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		r.log.Failed(ctx, "create", err)
		return models.NewInternalError(err)
	}
	r.log.Wrote(ctx, "create", slog.Uint64("post_id", uint64(post.ID)), slog.Int("images", len(post.Images)))
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	defer observability.TrackQuery("get", "posts")()
	var post models.Post
	if err := r.withDetails(readDB(r.db).WithContext(ctx)).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &post, nil
}

func (r *postRepository) List(ctx context.Context, limit int) ([]*models.Post, error) {
	defer observability.TrackQuery("list", "posts")()
	var posts []*models.Post
	err := r.withDetails(readDB(r.db).WithContext(ctx)).
		Order("posts.created_at DESC").
		Limit(clampLimit(limit)).
		Find(&posts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *postRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]*models.Post, error) {
	defer observability.TrackQuery("list_by_user", "posts")()
	var posts []*models.Post
	err := r.withDetails(readDB(r.db).WithContext(ctx)).
		Where("posts.user_id = ?", userID).
		Order("posts.created_at DESC").
		Limit(clampLimit(limit)).
		Find(&posts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *postRepository) ListByIDs(ctx context.Context, ids []uint) ([]*models.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer observability.TrackQuery("list_by_ids", "posts")()
	var posts []*models.Post
	err := r.withDetails(readDB(r.db).WithContext(ctx)).
		Where("posts.id IN ?", ids).
		Find(&posts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

// withDetails preloads images in display order and the likedBy set, and
// selects the comment count in the same query.
func (r *postRepository) withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Select("posts.*, (SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id) AS comments_count").
		Preload("Images", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Likes")
}

// Update persists the editable text fields only.
func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", post.ID).
		Updates(map[string]interface{}{
			"title":   post.Title,
			"content": post.Content,
		}).Error
	if err != nil {
		r.log.Failed(ctx, "update", err)
		return models.NewInternalError(err)
	}
	r.log.Wrote(ctx, "update", slog.Uint64("post_id", uint64(post.ID)))
	return nil
}

// Delete removes the post together with its images, comments, likes and
// saved-post mirrors in one transaction.
func (r *postRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, dep := range []interface{}{&models.Comment{}, &models.Like{}, &models.SavedPost{}, &models.PostImage{}} {
			if err := tx.Where("post_id = ?", id).Delete(dep).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.Post{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Post", id)
		}
		return nil
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		r.log.Failed(ctx, "delete", err)
		return models.NewInternalError(err)
	}
	r.log.Wrote(ctx, "delete", slog.Uint64("post_id", uint64(id)))
	return nil
}

func (r *postRepository) IsLiked(ctx context.Context, userID, postID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Like{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *postRepository) CountLikes(ctx context.Context, postID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Like{}).
		Where("post_id = ?", postID).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

// Like adds userID to the post's likedBy set. Adding an existing member is a no-op.
func (r *postRepository) Like(ctx context.Context, userID, postID uint) error {
	like := models.Like{UserID: userID, PostID: postID, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&like).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// Unlike removes userID from the post's likedBy set.
func (r *postRepository) Unlike(ctx context.Context, userID, postID uint) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(&models.Like{}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
