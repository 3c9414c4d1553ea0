package server

import (
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetComments handles GET /api/posts/:id/comments
// @Summary A post's comments, oldest first
// @Tags comments
// @Security BearerAuth
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {array} models.Comment
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/comments [get]
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	comments, err := s.commentService.ListComments(c.UserContext(), postID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comments)
}

// CreateComment handles POST /api/posts/:id/comments
// @Summary Comment on a post
// @Tags comments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Post ID"
// @Param request body service.CreateCommentInput true "Comment"
// @Success 201 {object} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/comments [post]
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req service.CreateCommentInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	req.PostID = postID

	comment, err := s.commentService.CreateComment(c.UserContext(), middleware.SessionFrom(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}
