package server

import (
	"fmt"
	"net/http"
	"testing"

	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateMyProfile(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodPut, "/api/users/me", alice.Token, service.UpdateProfileInput{
		Username: "alice_eats",
		Bio:      "  Dumplings over everything  ",
		Phone:    "(555) 123-4567",
	})
	var user models.User
	env.decode(resp, raw, http.StatusOK, &user)
	assert.Equal(t, "alice_eats", user.Username)
	assert.Equal(t, "Dumplings over everything", user.Bio)

	// The cached profile is refreshed.
	resp, raw = env.do(http.MethodGet, "/api/users/me", alice.Token, nil)
	env.decode(resp, raw, http.StatusOK, &user)
	assert.Equal(t, "alice_eats", user.Username)
	assert.Equal(t, "(555) 123-4567", user.Phone)

	tests := []struct {
		name  string
		input service.UpdateProfileInput
	}{
		{"bad username", service.UpdateProfileInput{Username: "-dash"}},
		{"bad phone", service.UpdateProfileInput{Phone: "call me"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := env.do(http.MethodPut, "/api/users/me", alice.Token, tt.input)
			env.decode(resp, raw, http.StatusBadRequest, nil)
		})
	}
}

func TestUpdateNotificationPermission_RequiresFlag(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodPut, "/api/users/me/notifications", alice.Token, fiber.Map{})
	var body models.ErrorResponse
	env.decode(resp, raw, http.StatusBadRequest, &body)
	assert.Equal(t, "enabled is required", body.Error)
}

func TestGetUserProfile_HidesContactDetails(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")
	bob := env.signup("bob")

	resp, raw := env.do(http.MethodGet, fmt.Sprintf("/api/users/%d", bob.User.ID), alice.Token, nil)
	var profile map[string]any
	env.decode(resp, raw, http.StatusOK, &profile)
	assert.Equal(t, "bob", profile["username"])
	assert.NotContains(t, profile, "email")
	assert.NotContains(t, profile, "phone")

	resp, raw = env.do(http.MethodGet, "/api/users/9999", alice.Token, nil)
	env.decode(resp, raw, http.StatusNotFound, nil)

	resp, raw = env.do(http.MethodGet, "/api/users/abc", alice.Token, nil)
	env.decode(resp, raw, http.StatusBadRequest, nil)
}

func TestGetFeatureFlags(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodGet, "/api/feature-flags", alice.Token, nil)
	var body struct {
		Raw       map[string]string `json:"raw"`
		Evaluated map[string]bool   `json:"evaluated"`
	}
	env.decode(resp, raw, http.StatusOK, &body)
	assert.Equal(t, "on", body.Raw["restaurant_reviews"])
	assert.True(t, body.Evaluated["restaurant_reviews"])
	assert.True(t, body.Evaluated["reminder_push"])
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(http.MethodGet, "/health/live", "", nil)
	env.decode(resp, raw, http.StatusOK, nil)

	resp, raw = env.do(http.MethodGet, "/health/ready", "", nil)
	var ready map[string]any
	env.decode(resp, raw, http.StatusOK, &ready)
	assert.Equal(t, "healthy", ready["status"])

	resp, raw = env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "http_requests_total")
}
