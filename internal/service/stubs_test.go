package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/places"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStub = errors.New("stub failure")

type postRepoStub struct {
	createFn     func(context.Context, *models.Post) error
	getByIDFn    func(context.Context, uint) (*models.Post, error)
	listFn       func(context.Context, int) ([]*models.Post, error)
	listByUserFn func(context.Context, uint, int) ([]*models.Post, error)
	listByIDsFn  func(context.Context, []uint) ([]*models.Post, error)
	updateFn     func(context.Context, *models.Post) error
	deleteFn     func(context.Context, uint) error
	isLikedFn    func(context.Context, uint, uint) (bool, error)
	countLikesFn func(context.Context, uint) (int64, error)
	likeFn       func(context.Context, uint, uint) error
	unlikeFn     func(context.Context, uint, uint) error
}

func (s *postRepoStub) Create(ctx context.Context, p *models.Post) error { return s.createFn(ctx, p) }
func (s *postRepoStub) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	return s.getByIDFn(ctx, id)
}
func (s *postRepoStub) List(ctx context.Context, limit int) ([]*models.Post, error) {
	return s.listFn(ctx, limit)
}
func (s *postRepoStub) ListByUser(ctx context.Context, userID uint, limit int) ([]*models.Post, error) {
	return s.listByUserFn(ctx, userID, limit)
}
func (s *postRepoStub) ListByIDs(ctx context.Context, ids []uint) ([]*models.Post, error) {
	return s.listByIDsFn(ctx, ids)
}
func (s *postRepoStub) Update(ctx context.Context, p *models.Post) error { return s.updateFn(ctx, p) }
func (s *postRepoStub) Delete(ctx context.Context, id uint) error        { return s.deleteFn(ctx, id) }
func (s *postRepoStub) IsLiked(ctx context.Context, userID, postID uint) (bool, error) {
	return s.isLikedFn(ctx, userID, postID)
}
func (s *postRepoStub) CountLikes(ctx context.Context, postID uint) (int64, error) {
	return s.countLikesFn(ctx, postID)
}
func (s *postRepoStub) Like(ctx context.Context, userID, postID uint) error {
	return s.likeFn(ctx, userID, postID)
}
func (s *postRepoStub) Unlike(ctx context.Context, userID, postID uint) error {
	return s.unlikeFn(ctx, userID, postID)
}

func noopPostRepo() *postRepoStub {
	return &postRepoStub{
		createFn:     func(context.Context, *models.Post) error { return nil },
		getByIDFn:    func(_ context.Context, id uint) (*models.Post, error) { return &models.Post{ID: id}, nil },
		listFn:       func(context.Context, int) ([]*models.Post, error) { return nil, nil },
		listByUserFn: func(context.Context, uint, int) ([]*models.Post, error) { return nil, nil },
		listByIDsFn:  func(context.Context, []uint) ([]*models.Post, error) { return nil, nil },
		updateFn:     func(context.Context, *models.Post) error { return nil },
		deleteFn:     func(context.Context, uint) error { return nil },
		isLikedFn:    func(context.Context, uint, uint) (bool, error) { return false, nil },
		countLikesFn: func(context.Context, uint) (int64, error) { return 0, nil },
		likeFn:       func(context.Context, uint, uint) error { return nil },
		unlikeFn:     func(context.Context, uint, uint) error { return nil },
	}
}

type userRepoStub struct {
	getByIDFn          func(context.Context, uint) (*models.User, error)
	getByEmailFn       func(context.Context, string) (*models.User, error)
	getByUsernameFn    func(context.Context, string) (*models.User, error)
	createFn           func(context.Context, *models.User) error
	updateProfileFn    func(context.Context, *models.User) error
	updatePasswordFn   func(context.Context, uint, string) error
	setNotificationsFn func(context.Context, uint, bool) error
}

func (s *userRepoStub) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return s.getByIDFn(ctx, id)
}
func (s *userRepoStub) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getByEmailFn(ctx, email)
}
func (s *userRepoStub) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getByUsernameFn(ctx, username)
}
func (s *userRepoStub) Create(ctx context.Context, u *models.User) error { return s.createFn(ctx, u) }
func (s *userRepoStub) UpdateProfile(ctx context.Context, u *models.User) error {
	return s.updateProfileFn(ctx, u)
}
func (s *userRepoStub) UpdatePassword(ctx context.Context, id uint, hash string) error {
	return s.updatePasswordFn(ctx, id, hash)
}
func (s *userRepoStub) SetNotificationsEnabled(ctx context.Context, id uint, enabled bool) error {
	return s.setNotificationsFn(ctx, id, enabled)
}

func noopUserRepo() *userRepoStub {
	return &userRepoStub{
		getByIDFn:          func(_ context.Context, id uint) (*models.User, error) { return &models.User{ID: id}, nil },
		getByEmailFn:       func(context.Context, string) (*models.User, error) { return nil, nil },
		getByUsernameFn:    func(context.Context, string) (*models.User, error) { return nil, nil },
		createFn:           func(context.Context, *models.User) error { return nil },
		updateProfileFn:    func(context.Context, *models.User) error { return nil },
		updatePasswordFn:   func(context.Context, uint, string) error { return nil },
		setNotificationsFn: func(context.Context, uint, bool) error { return nil },
	}
}

type commentRepoStub struct {
	createFn     func(context.Context, *models.Comment) error
	listByPostFn func(context.Context, uint) ([]*models.Comment, error)
}

func (s *commentRepoStub) Create(ctx context.Context, c *models.Comment) error {
	return s.createFn(ctx, c)
}
func (s *commentRepoStub) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	return s.listByPostFn(ctx, postID)
}

type savedRepoStub struct {
	saveFn        func(context.Context, uint, uint, time.Time) error
	removeFn      func(context.Context, uint, uint) error
	existsFn      func(context.Context, uint, uint) (bool, error)
	listPostIDsFn func(context.Context, uint, int) ([]uint, error)
}

func (s *savedRepoStub) Save(ctx context.Context, userID, postID uint, at time.Time) error {
	return s.saveFn(ctx, userID, postID, at)
}
func (s *savedRepoStub) Remove(ctx context.Context, userID, postID uint) error {
	return s.removeFn(ctx, userID, postID)
}
func (s *savedRepoStub) Exists(ctx context.Context, userID, postID uint) (bool, error) {
	return s.existsFn(ctx, userID, postID)
}
func (s *savedRepoStub) ListPostIDs(ctx context.Context, userID uint, limit int) ([]uint, error) {
	return s.listPostIDsFn(ctx, userID, limit)
}

// memFavorites is an in-memory FavoriteRepository keyed by user and place.
type memFavorites struct {
	mu       sync.Mutex
	items    map[string]models.FavoriteRestaurant
	upsertFn func(*models.FavoriteRestaurant) error
	lists    int
}

func newMemFavorites() *memFavorites {
	return &memFavorites{items: make(map[string]models.FavoriteRestaurant)}
}

func favKey(userID uint, placeID string) string { return RestaurantToggleKey(placeID, userID) }

func (m *memFavorites) Get(_ context.Context, userID uint, placeID string) (*models.FavoriteRestaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.items[favKey(userID, placeID)]
	if !ok {
		return nil, models.NewNotFoundError("Favorite", placeID)
	}
	return &f, nil
}

func (m *memFavorites) Exists(_ context.Context, userID uint, placeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[favKey(userID, placeID)]
	return ok, nil
}

func (m *memFavorites) Upsert(_ context.Context, fav *models.FavoriteRestaurant) error {
	if m.upsertFn != nil {
		if err := m.upsertFn(fav); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[favKey(fav.UserID, fav.PlaceID)] = *fav
	return nil
}

func (m *memFavorites) Delete(_ context.Context, userID uint, placeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, favKey(userID, placeID))
	return nil
}

func (m *memFavorites) ListByUser(_ context.Context, userID uint) ([]models.FavoriteRestaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	var out []models.FavoriteRestaurant
	for _, f := range m.items {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

type placesStub struct {
	textSearchFn func(context.Context, string) ([]places.Place, error)
	detailsFn    func(context.Context, string) (*places.Place, error)
}

func (s *placesStub) TextSearch(ctx context.Context, query string) ([]places.Place, error) {
	return s.textSearchFn(ctx, query)
}
func (s *placesStub) Details(ctx context.Context, placeID string) (*places.Place, error) {
	return s.detailsFn(ctx, placeID)
}
func (s *placesStub) PhotoURL(ref string, maxWidth int) string {
	return "https://photos.test/" + ref
}

func placeWithLocation(id, name string, lat, lng float64) *places.Place {
	p := &places.Place{PlaceID: id, Name: name, Rating: 4.5, FormattedAddress: "1 Main St"}
	p.Geometry = &places.Geometry{}
	p.Geometry.Location.Lat = lat
	p.Geometry.Location.Lng = lng
	p.Photos = []places.Photo{{Reference: "ref-" + id}}
	return p
}

// recordingPublisher captures published feed changes.
type recordingPublisher struct {
	mu      sync.Mutex
	changes []notifications.FeedChange
	err     error
}

func (p *recordingPublisher) PublishFeedChange(_ context.Context, change notifications.FeedChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c.Kind)
	}
	return out
}

func sessionFor(userID uint) models.Session {
	return models.Session{UserID: userID, Username: "user", TokenID: "jti"}
}

// assertCode asserts that err is an AppError carrying code.
func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeValidation)
}
