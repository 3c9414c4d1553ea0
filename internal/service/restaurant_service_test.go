package service

import (
	"context"
	"testing"
	"time"

	"cuisine/internal/geo"
	"cuisine/internal/models"
	"cuisine/internal/places"
	"cuisine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlacesStub() *placesStub {
	return &placesStub{
		textSearchFn: func(context.Context, string) ([]places.Place, error) { return nil, nil },
		detailsFn: func(_ context.Context, id string) (*places.Place, error) {
			if id == "missing" {
				return nil, places.ErrPlaceNotFound
			}
			return placeWithLocation(id, "Place "+id, 40.0, -74.0), nil
		},
	}
}

func TestRestaurantService_Search(t *testing.T) {
	t.Parallel()

	var gotQuery string
	p := newPlacesStub()
	p.textSearchFn = func(_ context.Context, q string) ([]places.Place, error) {
		gotQuery = q
		return nil, nil
	}
	svc := NewRestaurantService(p, newMemFavorites(), nil, nil)

	_, err := svc.Search(context.Background(), "   ")
	assertValidationError(t, err)

	results, err := svc.Search(context.Background(), "  tacos ")
	require.NoError(t, err)
	assert.Equal(t, "tacos", gotQuery)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRestaurantService_Details(t *testing.T) {
	t.Parallel()

	favs := newMemFavorites()
	require.NoError(t, favs.Upsert(context.Background(), &models.FavoriteRestaurant{UserID: 1, PlaceID: "p1", Name: "Saved"}))
	svc := NewRestaurantService(newPlacesStub(), favs, nil, nil)

	details, err := svc.Details(context.Background(), sessionFor(1), "p1")
	require.NoError(t, err)
	assert.True(t, details.Favorite)
	assert.Equal(t, []string{"https://photos.test/ref-p1"}, details.PhotoURLs)

	details, err = svc.Details(context.Background(), sessionFor(2), "p1")
	require.NoError(t, err)
	assert.False(t, details.Favorite)

	_, err = svc.Details(context.Background(), sessionFor(1), "missing")
	assertCode(t, err, models.CodeNotFound)
}

func TestRestaurantService_SetFavorite(t *testing.T) {
	t.Parallel()

	t.Run("snapshot from place details", func(t *testing.T) {
		t.Parallel()
		favs := newMemFavorites()
		svc := NewRestaurantService(newPlacesStub(), favs, nil, nil)

		state, err := svc.SetFavorite(context.Background(), sessionFor(1), "p1", true, nil)
		require.NoError(t, err)
		assert.Equal(t, FavoriteState{PlaceID: "p1", Favorite: true}, state)

		fav, err := favs.Get(context.Background(), 1, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Place p1", fav.Name)
		assert.Equal(t, "ref-p1", fav.PhotoReference)
		require.NotNil(t, fav.Location())
		assert.InDelta(t, 40.0, fav.Location().Lat, 1e-9)
	})

	t.Run("client snapshot skips lookup", func(t *testing.T) {
		t.Parallel()
		p := newPlacesStub()
		p.detailsFn = func(context.Context, string) (*places.Place, error) {
			t.Fatal("details should not be fetched")
			return nil, nil
		}
		favs := newMemFavorites()
		svc := NewRestaurantService(p, favs, nil, nil)

		_, err := svc.SetFavorite(context.Background(), sessionFor(1), "p2", true, &FavoriteInput{Name: " Noodle Bar ", Rating: 4.2})
		require.NoError(t, err)
		fav, err := favs.Get(context.Background(), 1, "p2")
		require.NoError(t, err)
		assert.Equal(t, "Noodle Bar", fav.Name)
	})

	t.Run("unfavorite and repeat are idempotent", func(t *testing.T) {
		t.Parallel()
		favs := newMemFavorites()
		svc := NewRestaurantService(newPlacesStub(), favs, nil, nil)
		ctx := context.Background()

		_, err := svc.SetFavorite(ctx, sessionFor(1), "p1", true, nil)
		require.NoError(t, err)
		state, err := svc.SetFavorite(ctx, sessionFor(1), "p1", false, nil)
		require.NoError(t, err)
		assert.False(t, state.Favorite)
		state, err = svc.SetFavorite(ctx, sessionFor(1), "p1", false, nil)
		require.NoError(t, err)
		assert.False(t, state.Favorite)
	})

	t.Run("failed write leaves no favorite", func(t *testing.T) {
		t.Parallel()
		favs := newMemFavorites()
		favs.upsertFn = func(*models.FavoriteRestaurant) error { return errStub }
		svc := NewRestaurantService(newPlacesStub(), favs, nil, nil)

		_, err := svc.SetFavorite(context.Background(), sessionFor(1), "p1", true, nil)
		var toggleErr *ToggleError
		require.ErrorAs(t, err, &toggleErr)
		assert.Equal(t, "favorite_record", toggleErr.Step)
		exists, _ := favs.Exists(context.Background(), 1, "p1")
		assert.False(t, exists)
	})

	t.Run("unknown place", func(t *testing.T) {
		t.Parallel()
		svc := NewRestaurantService(newPlacesStub(), newMemFavorites(), nil, nil)
		_, err := svc.SetFavorite(context.Background(), sessionFor(1), "missing", true, nil)
		assertCode(t, err, models.CodeNotFound)
	})
}

func TestRestaurantService_ListFavoritesCachesUntilToggle(t *testing.T) {
	t.Parallel()

	_, rdb := testutil.NewRedis(t)
	favs := newMemFavorites()
	svc := NewRestaurantService(newPlacesStub(), favs, rdb, nil)
	ctx := context.Background()

	_, err := svc.SetFavorite(ctx, sessionFor(1), "p1", true, nil)
	require.NoError(t, err)

	first, err := svc.ListFavorites(ctx, sessionFor(1), SortRecent, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "https://photos.test/ref-p1", first[0].PhotoURL)

	_, err = svc.ListFavorites(ctx, sessionFor(1), SortRecent, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, favs.lists, "second read is served from cache")

	_, err = svc.SetFavorite(ctx, sessionFor(1), "p2", true, nil)
	require.NoError(t, err)
	second, err := svc.ListFavorites(ctx, sessionFor(1), SortRecent, nil)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.Equal(t, 2, favs.lists)

	_, err = svc.ListFavorites(ctx, sessionFor(1), "alphabetical", nil)
	assertValidationError(t, err)
}

func TestSortFavoritesByDistance(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := func(v float64) *float64 { return &v }
	views := []FavoriteView{
		{FavoriteRestaurant: models.FavoriteRestaurant{PlaceID: "far", Timestamp: now}, Distance: d(12)},
		{FavoriteRestaurant: models.FavoriteRestaurant{PlaceID: "old-unlocated", Timestamp: now.Add(-time.Hour)}},
		{FavoriteRestaurant: models.FavoriteRestaurant{PlaceID: "near", Timestamp: now.Add(-2 * time.Hour)}, Distance: d(1)},
		{FavoriteRestaurant: models.FavoriteRestaurant{PlaceID: "new-unlocated", Timestamp: now}},
	}

	SortFavoritesByDistance(views)

	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.PlaceID)
	}
	assert.Equal(t, []string{"near", "far", "new-unlocated", "old-unlocated"}, ids)
}

func TestRestaurantService_ListFavoritesByDistance(t *testing.T) {
	t.Parallel()

	favs := newMemFavorites()
	lat, lng := 40.5, -74.0
	require.NoError(t, favs.Upsert(context.Background(), &models.FavoriteRestaurant{UserID: 1, PlaceID: "a", Name: "A", Latitude: &lat, Longitude: &lng, Timestamp: time.Now()}))
	require.NoError(t, favs.Upsert(context.Background(), &models.FavoriteRestaurant{UserID: 1, PlaceID: "b", Name: "B", Timestamp: time.Now()}))
	svc := NewRestaurantService(newPlacesStub(), favs, nil, nil)

	views, err := svc.ListFavorites(context.Background(), sessionFor(1), SortDistance, &geo.Coordinate{Lat: 40, Lng: -74})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].PlaceID)
	require.NotNil(t, views[0].Distance)
	assert.InDelta(t, 55.6, *views[0].Distance, 0.5)
	assert.Nil(t, views[1].Distance)
}
