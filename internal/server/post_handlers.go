package server

import (
	"cuisine/internal/feed"
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
)

// respondFeed assembles q for the caller and writes the snapshot.
func (s *Server) respondFeed(c *fiber.Ctx, q service.FeedQuery) error {
	snap, err := s.feedService.Snapshot(c.UserContext(), middleware.SessionFrom(c), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snap)
}

// GetFeed handles GET /api/posts/feed
// @Summary Home feed
// @Description With lat/lng the feed holds posts within the radius, nearest and most liked first. Without a location it is ranked by likes.
// @Tags posts
// @Security BearerAuth
// @Produce json
// @Param lat query number false "Viewer latitude"
// @Param lng query number false "Viewer longitude"
// @Param radius query number false "Radius in km"
// @Success 200 {object} feed.Snapshot
// @Failure 400 {object} models.ErrorResponse
// @Router /posts/feed [get]
func (s *Server) GetFeed(c *fiber.Ctx) error {
	viewer, err := parseViewer(c)
	if err != nil {
		return respondError(c, err)
	}
	radius, err := parseRadius(c)
	if err != nil {
		return respondError(c, err)
	}
	return s.respondFeed(c, service.FeedQuery{View: feed.ViewFeed, Viewer: viewer, RadiusKm: radius})
}

// GetJournal handles GET /api/posts/journal
// @Summary The caller's own posts
// @Tags posts
// @Security BearerAuth
// @Produce json
// @Success 200 {object} feed.Snapshot
// @Router /posts/journal [get]
func (s *Server) GetJournal(c *fiber.Ctx) error {
	return s.respondFeed(c, service.FeedQuery{View: feed.ViewJournal})
}

// GetSavedPosts handles GET /api/posts/saved
// @Summary Posts the caller liked
// @Tags posts
// @Security BearerAuth
// @Produce json
// @Success 200 {object} feed.Snapshot
// @Router /posts/saved [get]
func (s *Server) GetSavedPosts(c *fiber.Ctx) error {
	return s.respondFeed(c, service.FeedQuery{View: feed.ViewSaved})
}

// GetPost handles GET /api/posts/:id
// @Summary One post
// @Tags posts
// @Security BearerAuth
// @Produce json
// @Param id path int true "Post ID"
// @Param lat query number false "Viewer latitude"
// @Param lng query number false "Viewer longitude"
// @Success 200 {object} feed.EnrichedPost
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [get]
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	viewer, err := parseViewer(c)
	if err != nil {
		return respondError(c, err)
	}

	post, err := s.postService.GetPost(c.UserContext(), middleware.SessionFrom(c), id, viewer)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
// @Summary Publish a post
// @Description Title, content, a selected restaurant and 1-9 uploaded image keys are required
// @Tags posts
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.CreatePostInput true "Post"
// @Success 201 {object} feed.EnrichedPost
// @Failure 400 {object} models.ErrorResponse
// @Router /posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req service.CreatePostInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.postService.CreatePost(c.UserContext(), middleware.SessionFrom(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// UpdatePost handles PUT /api/posts/:id
// @Summary Edit a post
// @Tags posts
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Post ID"
// @Param request body service.UpdatePostInput true "Fields to change"
// @Success 200 {object} feed.EnrichedPost
// @Failure 403 {object} models.ErrorResponse
// @Router /posts/{id} [put]
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.UpdatePostInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	req.PostID = id

	post, err := s.postService.UpdatePost(c.UserContext(), middleware.SessionFrom(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
// @Summary Delete a post
// @Description Owner only. Removes comments, likes, saved mirrors and images.
// @Tags posts
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Router /posts/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.postService.DeletePost(c.UserContext(), middleware.SessionFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LikePost handles POST /api/posts/:id/like
// @Summary Like a post
// @Description Idempotent. Also saves the post to the caller's favorites.
// @Tags posts
// @Security BearerAuth
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {object} service.LikeState
// @Router /posts/{id}/like [post]
func (s *Server) LikePost(c *fiber.Ctx) error {
	return s.setLiked(c, true)
}

// UnlikePost handles DELETE /api/posts/:id/like
// @Summary Unlike a post
// @Tags posts
// @Security BearerAuth
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {object} service.LikeState
// @Router /posts/{id}/like [delete]
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	return s.setLiked(c, false)
}

func (s *Server) setLiked(c *fiber.Ctx, liked bool) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	state, err := s.likeService.SetLiked(c.UserContext(), middleware.SessionFrom(c), id, liked)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}
