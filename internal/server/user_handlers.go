package server

import (
	"time"

	"cuisine/internal/feed"
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
)

// publicProfile is what other users see of an account.
type publicProfile struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"created_at"`
}

// GetMyProfile handles GET /api/users/me
// @Summary Current user's profile
// @Tags users
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.User
// @Router /users/me [get]
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	session := middleware.SessionFrom(c)

	user, err := s.userService.GetUserByID(c.UserContext(), session.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// UpdateMyProfile handles PUT /api/users/me
// @Summary Edit profile
// @Description Replace username, bio and phone
// @Tags users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.UpdateProfileInput true "Profile fields"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /users/me [put]
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	var req service.UpdateProfileInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, err := s.userService.UpdateProfile(c.UserContext(), middleware.SessionFrom(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// UpdateNotificationPermission handles PUT /api/users/me/notifications
// @Summary Record notification permission
// @Description Reminders can only be scheduled once permission is granted
// @Tags users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body object{enabled=bool} true "Permission"
// @Success 200 {object} models.User
// @Router /users/me/notifications [put]
func (s *Server) UpdateNotificationPermission(c *fiber.Ctx) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("enabled is required"))
	}

	user, err := s.userService.SetNotificationsEnabled(c.UserContext(), middleware.SessionFrom(c), *req.Enabled)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// GetUserProfile handles GET /api/users/:id
// @Summary Another user's public profile
// @Tags users
// @Security BearerAuth
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} publicProfile
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{id} [get]
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	user, err := s.userService.GetUserByID(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(publicProfile{
		ID:        user.ID,
		Username:  user.Username,
		Bio:       user.Bio,
		CreatedAt: user.CreatedAt,
	})
}

// GetUserPosts handles GET /api/users/:id/posts
// @Summary Another user's journal
// @Tags users
// @Security BearerAuth
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} feed.Snapshot
// @Router /users/{id}/posts [get]
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	return s.respondFeed(c, service.FeedQuery{View: feed.ViewUser, SubjectID: id})
}
