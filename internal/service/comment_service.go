package service

import (
	"context"
	"log/slog"
	"time"

	"cuisine/internal/feed"
	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/repository"
	"cuisine/internal/validation"
)

type CommentService struct {
	commentRepo repository.CommentRepository
	postRepo    repository.PostRepository
	authors     *UserService
	publisher   FeedPublisher
	now         func() time.Time
}

type CreateCommentInput struct {
	PostID uint   `json:"-"`
	Text   string `json:"text"`
}

func NewCommentService(
	commentRepo repository.CommentRepository,
	postRepo repository.PostRepository,
	authors *UserService,
	publisher FeedPublisher,
) *CommentService {
	return &CommentService{
		commentRepo: commentRepo,
		postRepo:    postRepo,
		authors:     authors,
		publisher:   publisher,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateComment appends a comment to a post.
func (s *CommentService) CreateComment(ctx context.Context, session models.Session, in CreateCommentInput) (*models.Comment, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	text, err := validation.RequireText("comment", in.Text, validation.MaxCommentLen)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if _, err := s.postRepo.GetByID(ctx, in.PostID); err != nil {
		return nil, err
	}

	author := session.Username
	if author == "" && s.authors != nil {
		author = s.authors.DisplayName(ctx, session.UserID)
	}
	if author == "" {
		author = feed.AnonymousAuthor
	}

	now := s.now()
	comment := &models.Comment{
		PostID:     in.PostID,
		UserID:     session.UserID,
		AuthorName: author,
		Text:       text,
		Date:       now.Format(models.DateLayout),
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		change := notifications.FeedChange{Kind: notifications.ChangeCommented, PostID: in.PostID, UserID: session.UserID}
		if pubErr := s.publisher.PublishFeedChange(ctx, change); pubErr != nil {
			slog.WarnContext(ctx, "failed to publish comment change", slog.String("error", pubErr.Error()))
		}
	}
	return comment, nil
}

// ListComments returns a post's comments oldest first.
func (s *CommentService) ListComments(ctx context.Context, postID uint) ([]*models.Comment, error) {
	if _, err := s.postRepo.GetByID(ctx, postID); err != nil {
		return nil, err
	}
	return s.commentRepo.ListByPost(ctx, postID)
}
