package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cuisine/internal/config"
	"cuisine/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const expoOrigin = "http://localhost:8081"

// newMiddlewareApp mounts only the global middleware chain in front of a
// stub feed route, with the global limiter active.
func newMiddlewareApp() *fiber.App {
	srv := &Server{config: &config.Config{Env: "production", AllowedOrigins: expoOrigin}}
	app := fiber.New()
	srv.SetupMiddleware(app)
	app.Get("/api/posts/feed", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"posts": []any{}}) })
	app.Post("/api/posts", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })
	return app
}

func fromExpo(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Origin", expoOrigin)
	return req
}

func TestSetupMiddleware_CORS(t *testing.T) {
	t.Parallel()

	app := newMiddlewareApp()

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "configured origin", origin: expoOrigin, wantOrigin: expoOrigin},
		{name: "unknown origin", origin: "https://evil.example", wantOrigin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/posts/feed", nil)
			req.Header.Set("Origin", tt.origin)
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.wantOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSetupMiddleware_LimitedResponseKeepsCORSAndErrorShape(t *testing.T) {
	t.Parallel()

	app := newMiddlewareApp()
	for range 100 {
		resp, err := app.Test(fromExpo(http.MethodGet, "/api/posts/feed"), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp, err := app.Test(fromExpo(http.MethodGet, "/api/posts/feed"), -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, expoOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, models.CodeRateLimited, body.Code)
}

func TestSetupMiddleware_PreflightIgnoresLimiter(t *testing.T) {
	t.Parallel()

	app := newMiddlewareApp()
	for range 101 {
		resp, err := app.Test(fromExpo(http.MethodPost, "/api/posts"), -1)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	req := fromExpo(http.MethodOptions, "/api/posts")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, expoOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}
