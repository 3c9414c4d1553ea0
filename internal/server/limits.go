package server

import (
	"time"

	"cuisine/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Per-route quotas layered on top of the global IP limiter.
var (
	limitSignup               = middleware.Limit{Name: "signup", Max: 3, Window: 10 * time.Minute}
	limitLogin                = middleware.Limit{Name: "login", Max: 10, Window: 5 * time.Minute}
	limitPasswordReset        = middleware.Limit{Name: "password_reset", Max: 3, Window: 15 * time.Minute, Policy: middleware.FailClosed}
	limitPasswordResetConfirm = middleware.Limit{Name: "password_reset_confirm", Max: 10, Window: 15 * time.Minute, Policy: middleware.FailClosed}
	limitCreatePost           = middleware.Limit{Name: "create_post", Max: 5, Window: 5 * time.Minute}
	limitUploadImage          = middleware.Limit{Name: "upload_image", Max: 30, Window: 10 * time.Minute}
	limitCreateComment        = middleware.Limit{Name: "create_comment", Max: 10, Window: time.Minute}
	limitRestaurantSearch     = middleware.Limit{Name: "restaurant_search", Max: 30, Window: time.Minute}
)

func (s *Server) limit(l middleware.Limit) fiber.Handler {
	// A nil *redis.Client must not become a non-nil interface.
	var store redis.Cmdable
	if s.redis != nil {
		store = s.redis
	}
	return middleware.RateLimit(store, l)
}
