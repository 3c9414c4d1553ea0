package server

import (
	"errors"
	"mime"
	"path"
	"strconv"
	"strings"
	"unicode"

	"cuisine/internal/geo"
	"cuisine/internal/middleware"
	"cuisine/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID", "placeId" -> "place ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// respondError writes err with the status its AppError code maps to.
// Unexpected errors are logged and reported as 500.
func respondError(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		err = models.NewInternalError(err)
	}
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			"path", c.Path(),
			"error", err.Error(),
		)
	}
	return models.RespondWithError(c, status, err)
}

// parseViewer reads the optional lat/lng query pair. Both must be present
// for a location to be used; a half or malformed pair is a validation error.
func parseViewer(c *fiber.Ctx) (*geo.Coordinate, error) {
	latRaw, lngRaw := strings.TrimSpace(c.Query("lat")), strings.TrimSpace(c.Query("lng"))
	if latRaw == "" && lngRaw == "" {
		return nil, nil
	}
	if latRaw == "" || lngRaw == "" {
		return nil, models.NewValidationError("lat and lng must be provided together")
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, models.NewValidationError("Invalid lat")
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return nil, models.NewValidationError("Invalid lng")
	}
	viewer := geo.NewCoordinate(&lat, &lng)
	if !viewer.Valid() {
		return nil, models.NewValidationError("lat/lng out of range")
	}
	return viewer, nil
}

// parseRadius reads ?radius= in kilometres. Zero means the configured default.
func parseRadius(c *fiber.Ctx) (float64, error) {
	raw := strings.TrimSpace(c.Query("radius"))
	if raw == "" {
		return 0, nil
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r <= 0 {
		return 0, models.NewValidationError("radius must be a positive number of kilometres")
	}
	return r, nil
}

func mediaContentType(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return fiber.MIMEOctetStream
}
