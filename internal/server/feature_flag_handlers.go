package server

import (
	"cuisine/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type featureFlagsResponse struct {
	Raw       map[string]string `json:"raw"`
	Evaluated map[string]bool   `json:"evaluated"`
}

// GetFeatureFlags handles GET /api/feature-flags
// @Summary Feature flags for the caller
// @Description Configured values and their evaluation for the authenticated user
// @Tags users
// @Security BearerAuth
// @Produce json
// @Success 200 {object} featureFlagsResponse
// @Router /feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(featureFlagsResponse{
		Raw:       s.featureFlags.Raw(),
		Evaluated: s.featureFlags.Snapshot(middleware.SessionFrom(c).UserID),
	})
}
