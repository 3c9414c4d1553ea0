// Package middleware provides authentication, logging, tracing and rate limiting middleware.
package middleware

import (
	"context"
	"strings"

	"cuisine/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SessionLocal is the Fiber locals key holding the caller's models.Session.
const SessionLocal = "session"

// TokenVerifier resolves a bearer token into a session.
type TokenVerifier interface {
	Authenticate(ctx context.Context, token string) (models.Session, error)
}

// AuthRequired rejects requests without a valid bearer token and stores the
// resulting session in c.Locals.
func AuthRequired(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		session, err := verifier.Authenticate(c.UserContext(), token)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, err)
		}

		bindSession(c, session)
		return c.Next()
	}
}

// OptionalAuth binds a session when a valid token is present and otherwise
// lets the request through anonymously.
func OptionalAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := bearerToken(c); token != "" {
			if session, err := verifier.Authenticate(c.UserContext(), token); err == nil {
				bindSession(c, session)
			}
		}
		return c.Next()
	}
}

// SessionFrom returns the session bound by AuthRequired or OptionalAuth.
func SessionFrom(c *fiber.Ctx) models.Session {
	if s, ok := c.Locals(SessionLocal).(models.Session); ok {
		return s
	}
	return models.Session{}
}

func bindSession(c *fiber.Ctx, session models.Session) {
	c.Locals(SessionLocal, session)
	c.Locals("userID", session.UserID)
	ctx := context.WithValue(c.UserContext(), UserIDKey, session.UserID)
	c.SetUserContext(ctx)
}

// bearerToken reads "Authorization: Bearer <token>". WebSocket upgrades may
// pass the token as ?token= because browsers cannot set headers on them.
func bearerToken(c *fiber.Ctx) string {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if strings.EqualFold(c.Get("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}
