package server

import (
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Signup handles POST /api/auth/signup
// @Summary User signup
// @Description Register a new account and sign it in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.SignupInput true "Signup request"
// @Success 201 {object} service.AuthResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /auth/signup [post]
func (s *Server) Signup(c *fiber.Ctx) error {
	var req service.SignupInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	result, err := s.authService.Signup(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// Login handles POST /api/auth/login
// @Summary User login
// @Description Authenticate with email and password and return a JWT
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.LoginInput true "Login credentials"
// @Success 200 {object} service.AuthResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req service.LoginInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	result, err := s.authService.Login(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// Logout handles POST /api/auth/logout
// @Summary Logout
// @Description Revoke the current token and close the caller's live feeds
// @Tags auth
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	if err := s.authService.Logout(c.UserContext(), middleware.SessionFrom(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RequestPasswordReset handles POST /api/auth/password-reset
// @Summary Request a password reset
// @Description Mails a reset link. Unknown addresses get the same response.
// @Tags auth
// @Accept json
// @Param request body object{email=string} true "Account email"
// @Success 202
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/password-reset [post]
func (s *Server) RequestPasswordReset(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.authService.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// ConfirmPasswordReset handles POST /api/auth/password-reset/confirm
// @Summary Complete a password reset
// @Tags auth
// @Accept json
// @Param request body service.ResetPasswordInput true "Reset token and new password"
// @Success 204
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/password-reset/confirm [post]
func (s *Server) ConfirmPasswordReset(c *fiber.Ctx) error {
	var req service.ResetPasswordInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if err := s.authService.ResetPassword(c.UserContext(), req); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
