package server

import (
	"strings"

	"cuisine/internal/featureflags"
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SearchRestaurants handles GET /api/restaurants/search?q=
// @Summary Search restaurants
// @Tags restaurants
// @Security BearerAuth
// @Produce json
// @Param q query string true "Search text"
// @Success 200 {array} places.Place
// @Failure 400 {object} models.ErrorResponse
// @Router /restaurants/search [get]
func (s *Server) SearchRestaurants(c *fiber.Ctx) error {
	results, err := s.restaurantService.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(results)
}

// GetRestaurant handles GET /api/restaurants/:placeId
// @Summary Restaurant details
// @Description Place details with photo URLs, reviews and the caller's favorite flag
// @Tags restaurants
// @Security BearerAuth
// @Produce json
// @Param placeId path string true "Place ID"
// @Success 200 {object} service.RestaurantDetails
// @Failure 404 {object} models.ErrorResponse
// @Router /restaurants/{placeId} [get]
func (s *Server) GetRestaurant(c *fiber.Ctx) error {
	session := middleware.SessionFrom(c)
	details, err := s.restaurantService.Details(c.UserContext(), session, c.Params("placeId"))
	if err != nil {
		return respondError(c, err)
	}
	if !s.featureFlags.Enabled(featureflags.RestaurantReviews, session.UserID) {
		details.Reviews = nil
	}
	return c.JSON(details)
}

// GetFavoriteRestaurants handles GET /api/restaurants/favorites
// @Summary Favorite restaurants
// @Description Most recent first, or nearest first with sort=distance and the viewer's lat/lng
// @Tags restaurants
// @Security BearerAuth
// @Produce json
// @Param sort query string false "recent or distance"
// @Param lat query number false "Viewer latitude"
// @Param lng query number false "Viewer longitude"
// @Success 200 {array} service.FavoriteView
// @Router /restaurants/favorites [get]
func (s *Server) GetFavoriteRestaurants(c *fiber.Ctx) error {
	viewer, err := parseViewer(c)
	if err != nil {
		return respondError(c, err)
	}

	sortBy := strings.ToLower(strings.TrimSpace(c.Query("sort")))
	favorites, err := s.restaurantService.ListFavorites(c.UserContext(), middleware.SessionFrom(c), sortBy, viewer)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(favorites)
}

// FavoriteRestaurant handles POST /api/restaurants/:placeId/favorite
// @Summary Favorite a restaurant
// @Description Idempotent. The optional body is a snapshot of the place; without it the snapshot comes from place details.
// @Tags restaurants
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param placeId path string true "Place ID"
// @Param request body service.FavoriteInput false "Place snapshot"
// @Success 200 {object} service.FavoriteState
// @Router /restaurants/{placeId}/favorite [post]
func (s *Server) FavoriteRestaurant(c *fiber.Ctx) error {
	var snapshot *service.FavoriteInput
	if len(c.Body()) > 0 {
		snapshot = &service.FavoriteInput{}
		if err := c.BodyParser(snapshot); err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid request body"))
		}
	}
	return s.setFavorite(c, true, snapshot)
}

// UnfavoriteRestaurant handles DELETE /api/restaurants/:placeId/favorite
// @Summary Remove a favorite restaurant
// @Tags restaurants
// @Security BearerAuth
// @Produce json
// @Param placeId path string true "Place ID"
// @Success 200 {object} service.FavoriteState
// @Router /restaurants/{placeId}/favorite [delete]
func (s *Server) UnfavoriteRestaurant(c *fiber.Ctx) error {
	return s.setFavorite(c, false, nil)
}

func (s *Server) setFavorite(c *fiber.Ctx, favorite bool, snapshot *service.FavoriteInput) error {
	state, err := s.restaurantService.SetFavorite(c.UserContext(), middleware.SessionFrom(c), c.Params("placeId"), favorite, snapshot)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}
