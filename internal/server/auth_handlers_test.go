package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignup(t *testing.T) {
	env := newTestEnv(t)

	result := env.signup("ramen_fan")
	require.NotNil(t, result.User)
	assert.Equal(t, "ramen_fan", result.User.Username)
	assert.False(t, result.ExpiresAt.IsZero())

	t.Run("duplicate email conflicts", func(t *testing.T) {
		resp, raw := env.do(http.MethodPost, "/api/auth/signup", "", service.SignupInput{
			Username:        "someone_else",
			Email:           "ramen_fan@example.com",
			Password:        "Tasty1Noodles!",
			ConfirmPassword: "Tasty1Noodles!",
		})
		var body models.ErrorResponse
		env.decode(resp, raw, http.StatusConflict, &body)
		assert.Equal(t, models.CodeConflict, body.Code)
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		resp, raw := env.do(http.MethodPost, "/api/auth/signup", "", service.SignupInput{
			Username:        "mismatch",
			Email:           "mismatch@example.com",
			Password:        "Tasty1Noodles!",
			ConfirmPassword: "Tasty1Noodle!",
		})
		var body models.ErrorResponse
		env.decode(resp, raw, http.StatusBadRequest, &body)
		assert.Equal(t, models.CodeValidation, body.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		resp, raw := env.send(req)
		env.decode(resp, raw, http.StatusBadRequest, nil)
	})
}

func TestSignup_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("APP_ENV", "production")

	for i := range 3 {
		env.signup(fmt.Sprintf("eater%d", i))
	}
	resp, raw := env.do(http.MethodPost, "/api/auth/signup", "", service.SignupInput{
		Username:        "eater3",
		Email:           "eater3@example.com",
		Password:        "Tasty1Noodles!",
		ConfirmPassword: "Tasty1Noodles!",
	})
	var body models.ErrorResponse
	env.decode(resp, raw, http.StatusTooManyRequests, &body)
	assert.Equal(t, models.CodeRateLimited, body.Code)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestLoginAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.signup("dumpling")

	t.Run("wrong password", func(t *testing.T) {
		resp, raw := env.do(http.MethodPost, "/api/auth/login", "", service.LoginInput{
			Email:    "dumpling@example.com",
			Password: "Wrong1Password",
		})
		env.decode(resp, raw, http.StatusUnauthorized, nil)
	})

	resp, raw := env.do(http.MethodPost, "/api/auth/login", "", service.LoginInput{
		Email:    "Dumpling@Example.com",
		Password: "Tasty1Noodles!",
	})
	var login service.AuthResult
	env.decode(resp, raw, http.StatusOK, &login)

	resp, raw = env.do(http.MethodGet, "/api/users/me", login.Token, nil)
	env.decode(resp, raw, http.StatusOK, nil)

	resp, raw = env.do(http.MethodPost, "/api/auth/logout", login.Token, nil)
	env.decode(resp, raw, http.StatusNoContent, nil)

	resp, raw = env.do(http.MethodGet, "/api/users/me", login.Token, nil)
	var body models.ErrorResponse
	env.decode(resp, raw, http.StatusUnauthorized, &body)
	assert.Equal(t, "Token has been revoked", body.Error)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		method string
		path   string
		token  string
	}{
		{http.MethodGet, "/api/users/me", ""},
		{http.MethodGet, "/api/posts/feed", ""},
		{http.MethodGet, "/api/restaurants/favorites", "not-a-jwt"},
		{http.MethodGet, "/api/reminders", "Bearer"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, raw := env.do(tt.method, tt.path, tt.token, nil)
			env.decode(resp, raw, http.StatusUnauthorized, nil)
		})
	}
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	env.signup("noodle")

	resp, raw := env.do(http.MethodPost, "/api/auth/password-reset", "", fiber.Map{"email": "noodle@example.com"})
	env.decode(resp, raw, http.StatusAccepted, nil)

	// Unknown addresses look the same to the caller.
	resp, raw = env.do(http.MethodPost, "/api/auth/password-reset", "", fiber.Map{"email": "nobody@example.com"})
	env.decode(resp, raw, http.StatusAccepted, nil)

	var token string
	for _, key := range env.redis.Keys() {
		if strings.HasPrefix(key, "pwreset:") {
			token = strings.TrimPrefix(key, "pwreset:")
		}
	}
	require.NotEmpty(t, token, "reset token stored in redis")

	resp, raw = env.do(http.MethodPost, "/api/auth/password-reset/confirm", "", service.ResetPasswordInput{
		Token:           token,
		Password:        "Fresh2Dumplings!",
		ConfirmPassword: "Fresh2Dumplings!",
	})
	env.decode(resp, raw, http.StatusNoContent, nil)

	// The token is single use.
	resp, raw = env.do(http.MethodPost, "/api/auth/password-reset/confirm", "", service.ResetPasswordInput{
		Token:           token,
		Password:        "Fresh3Dumplings!",
		ConfirmPassword: "Fresh3Dumplings!",
	})
	env.decode(resp, raw, http.StatusBadRequest, nil)

	resp, raw = env.do(http.MethodPost, "/api/auth/login", "", service.LoginInput{
		Email:    "noodle@example.com",
		Password: "Fresh2Dumplings!",
	})
	env.decode(resp, raw, http.StatusOK, nil)
}
