package server

import (
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ScheduleReminder handles POST /api/restaurants/:placeId/reminders
// @Summary Remind me to visit a restaurant
// @Description Requires notification permission (PUT /users/me/notifications)
// @Tags reminders
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param placeId path string true "Place ID"
// @Param request body service.ScheduleReminderInput true "When and an optional note"
// @Success 201 {object} models.Reminder
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /restaurants/{placeId}/reminders [post]
func (s *Server) ScheduleReminder(c *fiber.Ctx) error {
	var req service.ScheduleReminderInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	reminder, err := s.reminderService.Schedule(c.UserContext(), middleware.SessionFrom(c), c.Params("placeId"), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reminder)
}

// GetReminders handles GET /api/reminders
// @Summary The caller's reminders
// @Tags reminders
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.Reminder
// @Router /reminders [get]
func (s *Server) GetReminders(c *fiber.Ctx) error {
	reminders, err := s.reminderService.List(c.UserContext(), middleware.SessionFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(reminders)
}

// CancelReminder handles DELETE /api/reminders/:id
// @Summary Cancel a pending reminder
// @Tags reminders
// @Security BearerAuth
// @Param id path int true "Reminder ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Router /reminders/{id} [delete]
func (s *Server) CancelReminder(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.reminderService.Cancel(c.UserContext(), middleware.SessionFrom(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
