// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"strings"
	"time"

	"cuisine/internal/models"
	"cuisine/internal/service"
	"cuisine/internal/validation"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DemoPassword is the password given to every seeded account.
const DemoPassword = "Cuisine!Demo2024"

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by Seed and tests.
type Factory struct {
	db     *gorm.DB
	opts   Options
	fake   *gofakeit.Faker
	images *service.ImageService
	// synthetic ID counter when running in DryRun mode
	nextID uint
	// bcrypt is slow; every seeded user shares one hash
	passwordHash string
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		db:     db,
		opts:   opts,
		fake:   gofakeit.New(seed),
		images: opts.Images,
		nextID: 1000,
	}
}

func (f *Factory) hashedPassword() (string, error) {
	if f.opts.SkipBcrypt {
		// Accounts seeded this way cannot sign in.
		return DemoPassword, nil
	}
	if f.passwordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("hash demo password: %w", err)
		}
		f.passwordHash = string(hash)
	}
	return f.passwordHash, nil
}

// username returns a handle that passes the signup rules.
func (f *Factory) username() string {
	base := strings.ToLower(f.fake.FirstName() + f.fake.LastName())
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, base)
	if len(base) > validation.MaxUsernameLen-4 {
		base = base[:validation.MaxUsernameLen-4]
	}
	return fmt.Sprintf("%s%d", base, f.fake.Number(100, 9999))
}

// CreateUser constructs and persists a sample user.
// Optional override functions may modify the generated user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	password, err := f.hashedPassword()
	if err != nil {
		return nil, err
	}

	name := f.username()
	user := &models.User{
		Username: name,
		Email:    name + "@example.com",
		Password: password,
		Bio:      fmt.Sprintf("Will travel for %s.", strings.ToLower(f.fake.Dinner())),
	}

	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		f.nextID++
		user.ID = f.nextID
		slog.Debug("dry-run: create user", "username", user.Username)
		return user, nil
	}

	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// BuildPost constructs a post at r for user without persisting it.
// Useful for batching.
func (f *Factory) BuildPost(user *models.User, r Restaurant, overrides ...func(*models.Post)) *models.Post {
	lat, lng := r.Lat, r.Lng
	post := &models.Post{
		Title:     f.dishTitle(),
		Content:   f.fake.Paragraph(1, 3, 12, " "),
		UserID:    user.ID,
		PlaceID:   r.PlaceID,
		PlaceName: r.Name,
		Latitude:  &lat,
		Longitude: &lng,
	}

	// realistic created_at spread
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.fake.Number(0, maxDays-1))*24*time.Hour +
		time.Duration(f.fake.Number(0, 23))*time.Hour +
		time.Duration(f.fake.Number(0, 59))*time.Minute
	post.CreatedAt = time.Now().Add(-back)
	post.Date = post.CreatedAt.Format(models.DateLayout)

	for _, override := range overrides {
		override(post)
	}
	return post
}

func (f *Factory) dishTitle() string {
	var dish string
	switch f.fake.Number(0, 2) {
	case 0:
		dish = f.fake.Lunch()
	case 1:
		dish = f.fake.Dinner()
	default:
		dish = f.fake.Dessert()
	}
	if len(dish) > validation.MaxTitleLen {
		dish = dish[:validation.MaxTitleLen]
	}
	return dish
}

// AttachImage renders a placeholder photo, stores it through the image
// pipeline and appends it to post. It is a no-op without an image service.
func (f *Factory) AttachImage(ctx context.Context, post *models.Post) error {
	if f.images == nil || f.opts.DryRun {
		return nil
	}

	content, err := f.placeholderJPEG(800, 800)
	if err != nil {
		return err
	}
	uploaded, err := f.images.Upload(ctx, service.UploadImageInput{
		UserID:      post.UserID,
		Filename:    "seed.jpg",
		ContentType: "image/jpeg",
		Content:     content,
	})
	if err != nil {
		return fmt.Errorf("upload seed image: %w", err)
	}
	post.Images = append(post.Images, models.PostImage{
		Position:   len(post.Images),
		StorageKey: uploaded.Key,
	})
	return nil
}

// placeholderJPEG draws a two-tone gradient so each seeded photo differs.
func (f *Factory) placeholderJPEG(w, h int) ([]byte, error) {
	from := color.RGBA{R: uint8(f.fake.Number(0, 255)), G: uint8(f.fake.Number(0, 255)), B: uint8(f.fake.Number(0, 255)), A: 255}
	to := color.RGBA{R: uint8(f.fake.Number(0, 255)), G: uint8(f.fake.Number(0, 255)), B: uint8(f.fake.Number(0, 255)), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		mix := func(a, b uint8) uint8 { return uint8((int(a)*(h-y) + int(b)*y) / h) }
		c := color.RGBA{R: mix(from.R, to.R), G: mix(from.G, to.G), B: mix(from.B, to.B), A: 255}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

// CreatePostsBatch persists multiple posts in a single DB call when possible.
func (f *Factory) CreatePostsBatch(posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	if f.opts.DryRun {
		for _, p := range posts {
			f.nextID++
			p.ID = f.nextID
		}
		slog.Debug("dry-run: create posts", "count", len(posts))
		return nil
	}
	return f.db.Create(&posts).Error
}

// CreateComment constructs and persists a sample comment on post by user.
func (f *Factory) CreateComment(user *models.User, post *models.Post, overrides ...func(*models.Comment)) (*models.Comment, error) {
	at := post.CreatedAt.Add(time.Duration(f.fake.Number(1, 72)) * time.Hour)
	if at.After(time.Now()) {
		at = time.Now()
	}
	comment := &models.Comment{
		PostID:     post.ID,
		UserID:     user.ID,
		AuthorName: user.Username,
		Text:       f.fake.Sentence(f.fake.Number(4, 14)),
		Date:       at.Format(models.DateLayout),
		CreatedAt:  at,
	}

	for _, override := range overrides {
		override(comment)
	}

	if f.opts.DryRun {
		return comment, nil
	}
	if err := f.db.Create(comment).Error; err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateLike persists a like from user on post along with its saved mirror.
func (f *Factory) CreateLike(user *models.User, post *models.Post) error {
	if f.opts.DryRun {
		return nil
	}
	now := time.Now()
	return f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.Like{UserID: user.ID, PostID: post.ID, CreatedAt: now}).Error; err != nil {
			return err
		}
		return tx.Create(&models.SavedPost{UserID: user.ID, PostID: post.ID, SavedAt: now}).Error
	})
}

// CreateFavorite persists a favorite snapshot of r for user.
func (f *Factory) CreateFavorite(user *models.User, r Restaurant) (*models.FavoriteRestaurant, error) {
	lat, lng := r.Lat, r.Lng
	fav := &models.FavoriteRestaurant{
		UserID:    user.ID,
		PlaceID:   r.PlaceID,
		Name:      r.Name,
		Address:   r.Address,
		Rating:    r.Rating,
		Latitude:  &lat,
		Longitude: &lng,
		Timestamp: time.Now().Add(-time.Duration(f.fake.Number(0, 30*24)) * time.Hour),
	}
	if f.opts.DryRun {
		return fav, nil
	}
	if err := f.db.Create(fav).Error; err != nil {
		return nil, err
	}
	return fav, nil
}
