package service

import (
	"context"
	"log/slog"
	"time"

	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/repository"
)

// FeedPublisher announces feed changes.
type FeedPublisher interface {
	PublishFeedChange(ctx context.Context, change notifications.FeedChange) error
}

// LikeState is the authoritative like state after a toggle.
type LikeState struct {
	PostID     uint  `json:"post_id"`
	Liked      bool  `json:"liked"`
	LikesCount int64 `json:"likes_count"`
}

type LikeService struct {
	postRepo  repository.PostRepository
	savedRepo repository.SavedPostRepository
	publisher FeedPublisher
	toggler   *Toggler
	now       func() time.Time
}

func NewLikeService(
	postRepo repository.PostRepository,
	savedRepo repository.SavedPostRepository,
	publisher FeedPublisher,
	toggler *Toggler,
) *LikeService {
	if toggler == nil {
		toggler = NewToggler()
	}
	return &LikeService{
		postRepo:  postRepo,
		savedRepo: savedRepo,
		publisher: publisher,
		toggler:   toggler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Like adds the caller to the post's likedBy set and writes the saved-post
// mirror. Liking twice is a no-op.
func (s *LikeService) Like(ctx context.Context, session models.Session, postID uint) (LikeState, error) {
	return s.SetLiked(ctx, session, postID, true)
}

// Unlike removes the caller from likedBy and deletes the mirror.
func (s *LikeService) Unlike(ctx context.Context, session models.Session, postID uint) (LikeState, error) {
	return s.SetLiked(ctx, session, postID, false)
}

// SetLiked moves the caller's like on postID to liked.
func (s *LikeService) SetLiked(ctx context.Context, session models.Session, postID uint, liked bool) (LikeState, error) {
	if !session.Authenticated() {
		return LikeState{}, models.NewUnauthorizedError("Authentication required")
	}
	if _, err := s.postRepo.GetByID(ctx, postID); err != nil {
		return LikeState{}, err
	}

	userID := session.UserID
	savedAt := s.now()

	membership := ToggleStep{
		Name: "liked_by",
		Do:   func(ctx context.Context) error { return s.postRepo.Like(ctx, userID, postID) },
		Undo: func(ctx context.Context) error { return s.postRepo.Unlike(ctx, userID, postID) },
	}
	mirror := ToggleStep{
		Name: "saved_post",
		Do:   func(ctx context.Context) error { return s.savedRepo.Save(ctx, userID, postID, savedAt) },
		Undo: func(ctx context.Context) error { return s.savedRepo.Remove(ctx, userID, postID) },
	}
	if !liked {
		membership.Do, membership.Undo = membership.Undo, membership.Do
		mirror.Do, mirror.Undo = mirror.Undo, mirror.Do
	}

	res, err := s.toggler.Execute(ctx, ToggleCommand{
		Kind:    "like",
		Key:     PostToggleKey(postID, userID),
		Desired: liked,
		Current: func(ctx context.Context) (bool, error) { return s.current(ctx, userID, postID, liked) },
		Steps:   []ToggleStep{membership, mirror},
	})
	if err != nil {
		return LikeState{}, err
	}

	if res.Applied && s.publisher != nil {
		kind := notifications.ChangeLiked
		if !liked {
			kind = notifications.ChangeUnliked
		}
		if pubErr := s.publisher.PublishFeedChange(ctx, notifications.FeedChange{Kind: kind, PostID: postID, UserID: userID}); pubErr != nil {
			slog.WarnContext(ctx, "failed to publish like change",
				slog.Uint64("post_id", uint64(postID)),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	return s.State(ctx, userID, postID)
}

// current reports the like as held only when membership and mirror agree
// on it, so a retry repairs a half-applied toggle in either direction.
func (s *LikeService) current(ctx context.Context, userID, postID uint, desired bool) (bool, error) {
	member, err := s.postRepo.IsLiked(ctx, userID, postID)
	if err != nil {
		return false, err
	}
	if member != desired {
		return member, nil
	}
	return s.savedRepo.Exists(ctx, userID, postID)
}

// State reads the like state of postID for userID.
func (s *LikeService) State(ctx context.Context, userID, postID uint) (LikeState, error) {
	liked, err := s.postRepo.IsLiked(ctx, userID, postID)
	if err != nil {
		return LikeState{}, err
	}
	count, err := s.postRepo.CountLikes(ctx, postID)
	if err != nil {
		return LikeState{}, err
	}
	return LikeState{PostID: postID, Liked: liked, LikesCount: count}, nil
}
