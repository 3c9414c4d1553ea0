package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cuisine/internal/feed"
	"cuisine/internal/geo"
	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/places"
	"cuisine/internal/repository"
	"cuisine/internal/validation"
)

// BlobRemover deletes stored blobs.
type BlobRemover interface {
	Delete(ctx context.Context, key string) error
}

// PlaceLookup resolves place details.
type PlaceLookup interface {
	Details(ctx context.Context, placeID string) (*places.Place, error)
}

type PostService struct {
	postRepo  repository.PostRepository
	places    PlaceLookup
	blobs     BlobRemover
	enricher  *feed.Enricher
	publisher FeedPublisher
	now       func() time.Time
}

type CreatePostInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	PlaceID   string   `json:"place_id"`
	PlaceName string   `json:"place_name"`
	ImageKeys []string `json:"image_keys"`
}

type UpdatePostInput struct {
	PostID  uint   `json:"-"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func NewPostService(
	postRepo repository.PostRepository,
	placeLookup PlaceLookup,
	blobs BlobRemover,
	enricher *feed.Enricher,
	publisher FeedPublisher,
) *PostService {
	return &PostService{
		postRepo:  postRepo,
		places:    placeLookup,
		blobs:     blobs,
		enricher:  enricher,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ImageKeyPrefix is the storage prefix for a user's post images.
func ImageKeyPrefix(userID uint) string {
	return fmt.Sprintf("posts/%d/", userID)
}

// ValidateCreatePost checks a submission before any I/O and returns the
// normalized input.
func ValidateCreatePost(userID uint, in CreatePostInput) (CreatePostInput, error) {
	var err error
	if in.Title, err = validation.RequireText("title", in.Title, validation.MaxTitleLen); err != nil {
		return in, models.NewValidationError(err.Error())
	}
	if in.Content, err = validation.RequireText("content", in.Content, validation.MaxContentLen); err != nil {
		return in, models.NewValidationError(err.Error())
	}
	if in.ImageKeys, err = validation.NormalizeImageKeys(in.ImageKeys, models.MaxPostImages); err != nil {
		return in, models.NewValidationError(err.Error())
	}
	prefix := ImageKeyPrefix(userID)
	for _, k := range in.ImageKeys {
		if !strings.HasPrefix(k, prefix) || strings.Contains(k, "..") {
			return in, models.NewValidationError("image key does not belong to the current user")
		}
	}
	in.PlaceID = strings.TrimSpace(in.PlaceID)
	if in.PlaceID == "" {
		return in, models.NewValidationError("a restaurant must be selected")
	}
	in.PlaceName = strings.TrimSpace(in.PlaceName)
	return in, nil
}

// CreatePost validates and stores a post. The post's location is copied from
// the place details; if the lookup fails for a reason other than an unknown
// place, the post is stored without a location.
func (s *PostService) CreatePost(ctx context.Context, session models.Session, in CreatePostInput) (*feed.EnrichedPost, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	in, err := ValidateCreatePost(session.UserID, in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	post := &models.Post{
		Title:     in.Title,
		Content:   in.Content,
		UserID:    session.UserID,
		PlaceID:   in.PlaceID,
		PlaceName: in.PlaceName,
		Date:      now.Format(models.DateLayout),
	}
	for i, key := range in.ImageKeys {
		post.Images = append(post.Images, models.PostImage{Position: i, StorageKey: key})
	}

	if s.places != nil {
		place, lookupErr := s.places.Details(ctx, in.PlaceID)
		switch {
		case errors.Is(lookupErr, places.ErrPlaceNotFound):
			return nil, models.NewValidationError("selected restaurant was not found")
		case lookupErr != nil:
			slog.WarnContext(ctx, "place lookup failed, storing post without location",
				slog.String("place_id", in.PlaceID),
				slog.String("error", lookupErr.Error()),
			)
		default:
			if post.PlaceName == "" {
				post.PlaceName = place.Name
			}
			if loc := place.Coordinate(); loc != nil {
				lat, lng := loc.Lat, loc.Lng
				post.Latitude, post.Longitude = &lat, &lng
			}
		}
	}

	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, err
	}
	s.publish(ctx, notifications.ChangePostCreated, post.ID, session.UserID)
	return s.GetPost(ctx, session, post.ID, nil)
}

// GetPost returns one post enriched for the caller.
func (s *PostService) GetPost(ctx context.Context, session models.Session, id uint, viewer *geo.Coordinate) (*feed.EnrichedPost, error) {
	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	enriched := s.enricher.Enrich(ctx, []*models.Post{post}, viewer, session.UserID)
	if len(enriched) == 0 {
		return nil, ctx.Err()
	}
	return &enriched[0], nil
}

func (s *PostService) UpdatePost(ctx context.Context, session models.Session, in UpdatePostInput) (*feed.EnrichedPost, error) {
	post, err := s.ownedPost(ctx, session, in.PostID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Title) != "" {
		if post.Title, err = validation.RequireText("title", in.Title, validation.MaxTitleLen); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
	}
	if strings.TrimSpace(in.Content) != "" {
		if post.Content, err = validation.RequireText("content", in.Content, validation.MaxContentLen); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
	}

	if err := s.postRepo.Update(ctx, post); err != nil {
		return nil, err
	}
	s.publish(ctx, notifications.ChangePostUpdated, post.ID, session.UserID)
	return s.GetPost(ctx, session, post.ID, nil)
}

// DeletePost removes an owned post with its comments, likes and mirrors, then
// deletes its blobs.
func (s *PostService) DeletePost(ctx context.Context, session models.Session, postID uint) error {
	post, err := s.ownedPost(ctx, session, postID)
	if err != nil {
		return err
	}
	if err := s.postRepo.Delete(ctx, postID); err != nil {
		return err
	}

	if s.blobs != nil {
		for _, key := range post.ImageKeys() {
			if delErr := s.blobs.Delete(ctx, key); delErr != nil {
				slog.WarnContext(ctx, "failed to delete post image",
					slog.String("key", key),
					slog.String("error", delErr.Error()),
				)
			}
		}
	}
	s.publish(ctx, notifications.ChangePostDeleted, postID, session.UserID)
	return nil
}

func (s *PostService) ownedPost(ctx context.Context, session models.Session, postID uint) (*models.Post, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != session.UserID {
		return nil, models.NewForbiddenError("You can only modify your own posts")
	}
	return post, nil
}

func (s *PostService) publish(ctx context.Context, kind string, postID, userID uint) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishFeedChange(ctx, notifications.FeedChange{Kind: kind, PostID: postID, UserID: userID}); err != nil {
		slog.WarnContext(ctx, "failed to publish feed change",
			slog.String("kind", kind),
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()),
		)
	}
}
