package server

import (
	"net/http"
	"testing"

	"cuisine/internal/config"
	"cuisine/internal/places"
	"cuisine/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRestaurants(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodGet, "/api/restaurants/search?q=pizza", alice.Token, nil)
	var results []places.Place
	env.decode(resp, raw, http.StatusOK, &results)
	require.Len(t, results, 1)
	assert.Equal(t, "joes-pizza", results[0].PlaceID)

	resp, raw = env.do(http.MethodGet, "/api/restaurants/search?q=sushi", alice.Token, nil)
	env.decode(resp, raw, http.StatusOK, &results)
	assert.Empty(t, results)

	resp, raw = env.do(http.MethodGet, "/api/restaurants/search?q=%20", alice.Token, nil)
	env.decode(resp, raw, http.StatusBadRequest, nil)
}

func TestGetRestaurant(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodGet, "/api/restaurants/joes-pizza", alice.Token, nil)
	var details service.RestaurantDetails
	env.decode(resp, raw, http.StatusOK, &details)
	assert.Equal(t, "Joe's Pizza", details.Name)
	require.Len(t, details.PhotoURLs, 1)
	assert.Contains(t, details.PhotoURLs[0], "photo_reference=ref-joes")
	require.Len(t, details.Reviews, 1)
	assert.False(t, details.Favorite)

	// Details are cached in redis, so the provider is asked once.
	resp, raw = env.do(http.MethodGet, "/api/restaurants/joes-pizza", alice.Token, nil)
	env.decode(resp, raw, http.StatusOK, nil)
	assert.Equal(t, int32(1), env.placeLookups.Load())

	resp, raw = env.do(http.MethodGet, "/api/restaurants/nowhere", alice.Token, nil)
	env.decode(resp, raw, http.StatusNotFound, nil)
}

func TestGetRestaurant_ReviewsFlagOff(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.FeatureFlags = "restaurant_reviews=off" })
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodGet, "/api/restaurants/joes-pizza", alice.Token, nil)
	var details service.RestaurantDetails
	env.decode(resp, raw, http.StatusOK, &details)
	assert.Equal(t, "Joe's Pizza", details.Name)
	assert.Empty(t, details.Reviews)
	assert.NotContains(t, string(raw), "Classic slice")
}

func TestFavoriteRestaurants(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	// Snapshot from place details.
	resp, raw := env.do(http.MethodPost, "/api/restaurants/joes-pizza/favorite", alice.Token, nil)
	var state service.FavoriteState
	env.decode(resp, raw, http.StatusOK, &state)
	assert.True(t, state.Favorite)

	// Snapshot supplied by the client.
	lat, lng := 40.7223, -73.9874
	resp, raw = env.do(http.MethodPost, "/api/restaurants/katz/favorite", alice.Token, service.FavoriteInput{
		Name:      "Katz's",
		Address:   "205 E Houston St",
		Rating:    4.5,
		Latitude:  &lat,
		Longitude: &lng,
	})
	env.decode(resp, raw, http.StatusOK, &state)
	assert.True(t, state.Favorite)

	// Favoriting again changes nothing.
	resp, raw = env.do(http.MethodPost, "/api/restaurants/katz/favorite", alice.Token, nil)
	env.decode(resp, raw, http.StatusOK, &state)
	assert.True(t, state.Favorite)

	listIDs := func(query string) []string {
		t.Helper()
		resp, raw := env.do(http.MethodGet, "/api/restaurants/favorites"+query, alice.Token, nil)
		var views []service.FavoriteView
		env.decode(resp, raw, http.StatusOK, &views)
		ids := make([]string, 0, len(views))
		for _, v := range views {
			ids = append(ids, v.PlaceID)
		}
		return ids
	}

	assert.Equal(t, []string{"katz", "joes-pizza"}, listIDs(""))
	assert.Equal(t, []string{"joes-pizza", "katz"}, listIDs("?sort=distance&lat=40.7306&lng=-74.0021"))
	assert.Equal(t, []string{"katz", "joes-pizza"}, listIDs("?sort=distance&lat=40.7223&lng=-73.9874"))

	resp, raw = env.do(http.MethodGet, "/api/restaurants/favorites?sort=rating", alice.Token, nil)
	env.decode(resp, raw, http.StatusBadRequest, nil)

	resp, raw = env.do(http.MethodGet, "/api/restaurants/joes-pizza", alice.Token, nil)
	var details service.RestaurantDetails
	env.decode(resp, raw, http.StatusOK, &details)
	assert.True(t, details.Favorite)

	resp, raw = env.do(http.MethodDelete, "/api/restaurants/joes-pizza/favorite", alice.Token, nil)
	env.decode(resp, raw, http.StatusOK, &state)
	assert.False(t, state.Favorite)
	assert.Equal(t, []string{"katz"}, listIDs(""))

	t.Run("unknown place without snapshot", func(t *testing.T) {
		resp, raw := env.do(http.MethodPost, "/api/restaurants/nowhere/favorite", alice.Token, nil)
		env.decode(resp, raw, http.StatusNotFound, nil)
	})
}
