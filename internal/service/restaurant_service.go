package service

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"cuisine/internal/cache"
	"cuisine/internal/geo"
	"cuisine/internal/models"
	"cuisine/internal/places"
	"cuisine/internal/repository"

	"github.com/redis/go-redis/v9"
)

// DetailPhotoWidth is the width requested for restaurant detail photos.
const DetailPhotoWidth = 400

// Favorites sort orders.
const (
	SortRecent   = "recent"
	SortDistance = "distance"
)

// PlacesProvider is the restaurant directory.
type PlacesProvider interface {
	TextSearch(ctx context.Context, query string) ([]places.Place, error)
	Details(ctx context.Context, placeID string) (*places.Place, error)
	PhotoURL(ref string, maxWidth int) string
}

// RestaurantDetails is a place with resolved photo URLs and the caller's
// favorite flag.
type RestaurantDetails struct {
	places.Place
	PhotoURLs []string `json:"photo_urls"`
	Favorite  bool     `json:"favorite"`
}

// FavoriteInput is an optional client-supplied snapshot of the place.
type FavoriteInput struct {
	Name           string   `json:"name"`
	Address        string   `json:"address"`
	Rating         float64  `json:"rating"`
	PhotoReference string   `json:"photo_reference"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

// FavoriteState is the authoritative favorite state after a toggle.
type FavoriteState struct {
	PlaceID  string `json:"place_id"`
	Favorite bool   `json:"favorite"`
}

// FavoriteView is a favorite restaurant as listed to its owner.
type FavoriteView struct {
	models.FavoriteRestaurant
	PhotoURL string   `json:"photo_url,omitempty"`
	Distance *float64 `json:"distance,omitempty"`
}

type RestaurantService struct {
	places    PlacesProvider
	favorites repository.FavoriteRepository
	rdb       redis.Cmdable
	toggler   *Toggler
	now       func() time.Time
}

func NewRestaurantService(
	placesProvider PlacesProvider,
	favorites repository.FavoriteRepository,
	rdb redis.Cmdable,
	toggler *Toggler,
) *RestaurantService {
	if toggler == nil {
		toggler = NewToggler()
	}
	return &RestaurantService{
		places:    placesProvider,
		favorites: favorites,
		rdb:       rdb,
		toggler:   toggler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Search finds restaurants matching query.
func (s *RestaurantService) Search(ctx context.Context, query string) ([]places.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("Search query is required")
	}
	results, err := s.places.TextSearch(ctx, query)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if results == nil {
		results = []places.Place{}
	}
	return results, nil
}

// Details loads a place and whether the caller has favorited it.
func (s *RestaurantService) Details(ctx context.Context, session models.Session, placeID string) (*RestaurantDetails, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, models.NewValidationError("Place ID is required")
	}
	place, err := s.lookup(ctx, placeID)
	if err != nil {
		return nil, err
	}

	out := &RestaurantDetails{Place: *place, PhotoURLs: make([]string, 0, len(place.Photos))}
	for _, p := range place.Photos {
		out.PhotoURLs = append(out.PhotoURLs, s.places.PhotoURL(p.Reference, DetailPhotoWidth))
	}
	if session.Authenticated() {
		fav, err := s.favorites.Exists(ctx, session.UserID, placeID)
		if err != nil {
			return nil, err
		}
		out.Favorite = fav
	}
	return out, nil
}

func (s *RestaurantService) lookup(ctx context.Context, placeID string) (*places.Place, error) {
	place, err := s.places.Details(ctx, placeID)
	if err != nil {
		return nil, placeLookupError(placeID, err)
	}
	return place, nil
}

func placeLookupError(placeID string, err error) error {
	if errors.Is(err, places.ErrPlaceNotFound) {
		return models.NewNotFoundError("Restaurant", placeID)
	}
	return models.NewInternalError(err)
}

// SetFavorite moves the caller's favorite on placeID to favorite. When in is
// nil or has no name, the snapshot is taken from place details.
func (s *RestaurantService) SetFavorite(ctx context.Context, session models.Session, placeID string, favorite bool, in *FavoriteInput) (FavoriteState, error) {
	if !session.Authenticated() {
		return FavoriteState{}, models.NewUnauthorizedError("Authentication required")
	}
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return FavoriteState{}, models.NewValidationError("Place ID is required")
	}
	userID := session.UserID

	var steps []ToggleStep
	if favorite {
		snapshot, err := s.snapshot(ctx, userID, placeID, in)
		if err != nil {
			return FavoriteState{}, err
		}
		steps = []ToggleStep{
			{
				Name: "favorite_record",
				Do:   func(ctx context.Context) error { return s.favorites.Upsert(ctx, snapshot) },
				Undo: func(ctx context.Context) error { return s.favorites.Delete(ctx, userID, placeID) },
			},
			s.invalidateStep(userID),
		}
	} else {
		var captured *models.FavoriteRestaurant
		steps = []ToggleStep{
			{
				Name: "favorite_record",
				Do: func(ctx context.Context) error {
					existing, err := s.favorites.Get(ctx, userID, placeID)
					if err != nil {
						return err
					}
					captured = existing
					return s.favorites.Delete(ctx, userID, placeID)
				},
				Undo: func(ctx context.Context) error {
					if captured == nil {
						return nil
					}
					restored := *captured
					restored.ID = 0
					return s.favorites.Upsert(ctx, &restored)
				},
			},
			s.invalidateStep(userID),
		}
	}

	_, err := s.toggler.Execute(ctx, ToggleCommand{
		Kind:    "favorite",
		Key:     RestaurantToggleKey(placeID, userID),
		Desired: favorite,
		Current: func(ctx context.Context) (bool, error) { return s.favorites.Exists(ctx, userID, placeID) },
		Steps:   steps,
	})
	if err != nil {
		return FavoriteState{}, err
	}

	exists, err := s.favorites.Exists(ctx, userID, placeID)
	if err != nil {
		return FavoriteState{}, err
	}
	return FavoriteState{PlaceID: placeID, Favorite: exists}, nil
}

func (s *RestaurantService) invalidateStep(userID uint) ToggleStep {
	invalidate := func(ctx context.Context) error {
		cache.InvalidateFavorites(ctx, s.rdb, userID)
		return nil
	}
	return ToggleStep{Name: "favorites_cache", Do: invalidate, Undo: invalidate}
}

func (s *RestaurantService) snapshot(ctx context.Context, userID uint, placeID string, in *FavoriteInput) (*models.FavoriteRestaurant, error) {
	fav := &models.FavoriteRestaurant{UserID: userID, PlaceID: placeID, Timestamp: s.now()}
	if in != nil && strings.TrimSpace(in.Name) != "" {
		fav.Name = strings.TrimSpace(in.Name)
		fav.Address = in.Address
		fav.Rating = in.Rating
		fav.PhotoReference = in.PhotoReference
		if loc := geo.NewCoordinate(in.Latitude, in.Longitude); loc.Valid() {
			fav.Latitude, fav.Longitude = in.Latitude, in.Longitude
		}
		return fav, nil
	}

	place, err := s.lookup(ctx, placeID)
	if err != nil {
		return nil, err
	}
	fav.Name = place.Name
	fav.Address = place.FormattedAddress
	fav.Rating = place.Rating
	fav.PhotoReference = place.FirstPhotoReference()
	if loc := place.Coordinate(); loc != nil {
		lat, lng := loc.Lat, loc.Lng
		fav.Latitude, fav.Longitude = &lat, &lng
	}
	return fav, nil
}

// ListFavorites returns the caller's favorite restaurants, most recent first
// or nearest first. Unlocated favorites sort last by distance.
func (s *RestaurantService) ListFavorites(ctx context.Context, session models.Session, sortBy string, viewer *geo.Coordinate) ([]FavoriteView, error) {
	if !session.Authenticated() {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	switch sortBy {
	case "", SortRecent, SortDistance:
	default:
		return nil, models.NewValidationError("sort must be 'recent' or 'distance'")
	}

	favs, err := cache.Aside(ctx, s.rdb, "favorites", cache.FavoritesKey(session.UserID), cache.FavoritesTTL,
		func(ctx context.Context) ([]models.FavoriteRestaurant, error) {
			return s.favorites.ListByUser(ctx, session.UserID)
		})
	if err != nil {
		return nil, err
	}

	views := make([]FavoriteView, 0, len(favs))
	for _, f := range favs {
		v := FavoriteView{FavoriteRestaurant: f}
		if f.PhotoReference != "" {
			v.PhotoURL = s.places.PhotoURL(f.PhotoReference, DetailPhotoWidth)
		}
		if d, err := geo.Haversine(f.Location(), viewer); err == nil {
			v.Distance = &d
		}
		views = append(views, v)
	}

	if sortBy == SortDistance && viewer.Valid() {
		SortFavoritesByDistance(views)
	} else {
		SortFavoritesByRecent(views)
	}
	return views, nil
}

// SortFavoritesByRecent orders favorites newest first.
func SortFavoritesByRecent(views []FavoriteView) {
	slices.SortStableFunc(views, func(a, b FavoriteView) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.PlaceID, b.PlaceID)
	})
}

// SortFavoritesByDistance orders favorites nearest first with unlocated
// entries last, newest first among them.
func SortFavoritesByDistance(views []FavoriteView) {
	slices.SortStableFunc(views, func(a, b FavoriteView) int {
		switch {
		case a.Distance == nil && b.Distance == nil:
			return b.Timestamp.Compare(a.Timestamp)
		case a.Distance == nil:
			return 1
		case b.Distance == nil:
			return -1
		}
		return cmp.Compare(*a.Distance, *b.Distance)
	})
}
