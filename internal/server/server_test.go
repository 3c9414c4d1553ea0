package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cuisine/internal/config"
	"cuisine/internal/service"
	"cuisine/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-that-is-at-least-32-bytes-long"

// Places known to the fake provider. Both sit in lower Manhattan.
var testPlaces = map[string]string{
	"joes-pizza": `{"place_id":"joes-pizza","name":"Joe's Pizza","formatted_address":"7 Carmine St, New York","rating":4.6,
		"photos":[{"photo_reference":"ref-joes","width":800,"height":600}],
		"reviews":[{"author_name":"Sam","rating":5,"text":"Classic slice","time":1714000000}],
		"geometry":{"location":{"lat":40.7306,"lng":-74.0021}}}`,
	"katz": `{"place_id":"katz","name":"Katz's Delicatessen","formatted_address":"205 E Houston St, New York","rating":4.5,
		"geometry":{"location":{"lat":40.7223,"lng":-73.9874}}}`,
}

// testEnv is a fully wired server over SQLite, miniredis and a fake places API.
type testEnv struct {
	t            *testing.T
	srv          *Server
	app          *fiber.App
	redis        *miniredis.Miniredis
	placeLookups atomic.Int32
}

func newTestEnv(t *testing.T, overrides ...func(*config.Config)) *testEnv {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	env := &testEnv{t: t}
	places := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/details/json":
			env.placeLookups.Add(1)
			place, ok := testPlaces[r.URL.Query().Get("place_id")]
			if !ok {
				_, _ = io.WriteString(w, `{"status":"NOT_FOUND"}`)
				return
			}
			_, _ = fmt.Fprintf(w, `{"status":"OK","result":%s}`, place)
		case "/textsearch/json":
			if strings.Contains(strings.ToLower(r.URL.Query().Get("query")), "pizza") {
				_, _ = fmt.Fprintf(w, `{"status":"OK","results":[%s]}`, testPlaces["joes-pizza"])
				return
			}
			_, _ = io.WriteString(w, `{"status":"ZERO_RESULTS","results":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(places.Close)

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	env.redis = mr

	cfg := &config.Config{
		JWTSecret:            testJWTSecret,
		JWTTTLHours:          1,
		Port:                 "8080",
		Env:                  "test",
		PlacesAPIKey:         "test-key",
		PlacesBaseURL:        places.URL,
		FeedRadiusKm:         5,
		FeedMaxPosts:         50,
		FeedConcurrency:      4,
		ImageMaxUploadSizeMB: 2,
		ReminderMaxAttempts:  3,
	}
	for _, override := range overrides {
		override(cfg)
	}

	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, unsubscribe := range srv.authListeners {
			unsubscribe()
		}
	})

	env.srv = srv
	env.app = srv.newApp()
	return env
}

// do sends a JSON request and returns the response with its body read.
func (e *testEnv) do(method, path, token string, body any) (*http.Response, []byte) {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.send(req)
}

func (e *testEnv) send(req *http.Request) (*http.Response, []byte) {
	e.t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	_ = resp.Body.Close()
	return resp, raw
}

// decode fails the test unless the response had the wanted status.
func (e *testEnv) decode(resp *http.Response, raw []byte, status int, out any) {
	e.t.Helper()
	require.Equal(e.t, status, resp.StatusCode, string(raw))
	if out != nil {
		require.NoError(e.t, json.Unmarshal(raw, out), string(raw))
	}
}

// signup registers username and returns its auth result.
func (e *testEnv) signup(username string) service.AuthResult {
	e.t.Helper()
	resp, raw := e.do(http.MethodPost, "/api/auth/signup", "", service.SignupInput{
		Username:        username,
		Email:           username + "@example.com",
		Password:        "Tasty1Noodles!",
		ConfirmPassword: "Tasty1Noodles!",
	})
	var result service.AuthResult
	e.decode(resp, raw, http.StatusCreated, &result)
	require.NotEmpty(e.t, result.Token)
	return result
}

// uploadImage posts a small PNG and returns the stored image.
func (e *testEnv) uploadImage(token string) service.UploadedImage {
	e.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "plate.png")
	require.NoError(e.t, err)
	_, err = part.Write(testutil.TinyPNG(e.t, 64, 48))
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/posts/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, raw := e.send(req)

	var uploaded service.UploadedImage
	e.decode(resp, raw, http.StatusCreated, &uploaded)
	return uploaded
}

// createPost uploads one image and posts it at placeID.
func (e *testEnv) createPost(token, title, placeID string) uint {
	e.t.Helper()
	img := e.uploadImage(token)
	resp, raw := e.do(http.MethodPost, "/api/posts", token, service.CreatePostInput{
		Title:     title,
		Content:   title + " was great",
		PlaceID:   placeID,
		ImageKeys: []string{img.Key},
	})
	var post struct {
		ID uint `json:"id"`
	}
	e.decode(resp, raw, http.StatusCreated, &post)
	require.NotZero(e.t, post.ID)
	return post.ID
}
