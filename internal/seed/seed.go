package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cuisine/internal/database"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers     int
	PostsPerUser int
	ShouldClean  bool
	// SkipBcrypt stores the demo password in clear text for speed.
	SkipBcrypt bool
	// DryRun builds everything but writes nothing.
	DryRun  bool
	MaxDays int
	// RandSeed makes runs reproducible when non-zero.
	RandSeed    int64
	Restaurants []Restaurant
	// Images, when set, gives every seeded post a rendered photo.
	Images *service.ImageService
}

// Summary counts what a seed run created.
type Summary struct {
	Users     int
	Posts     int
	Likes     int
	Comments  int
	Favorites int
}

// DefaultOptions returns a small demo dataset configuration.
func DefaultOptions() Options {
	return Options{
		NumUsers:     12,
		PostsPerUser: 4,
		MaxDays:      60,
	}
}

// Seed populates db with demo users, posts, likes, comments and favorites.
func Seed(ctx context.Context, db *gorm.DB, opts Options) (*Summary, error) {
	if db == nil && !opts.DryRun {
		return nil, errors.New("seed: database is required")
	}
	if opts.NumUsers <= 0 {
		opts.NumUsers = DefaultOptions().NumUsers
	}
	if opts.PostsPerUser < 0 {
		opts.PostsPerUser = 0
	}
	if len(opts.Restaurants) == 0 {
		opts.Restaurants = DefaultRestaurants()
	}

	if opts.ShouldClean && !opts.DryRun {
		slog.Info("clearing existing data")
		if err := clearData(db); err != nil {
			return nil, fmt.Errorf("clear data: %w", err)
		}
	}

	f := NewFactory(db, opts)
	summary := &Summary{}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return summary, fmt.Errorf("create user: %w", err)
		}
		users = append(users, u)
	}
	summary.Users = len(users)
	slog.Info("seeded users", "count", summary.Users)

	for _, u := range users {
		for _, r := range f.pickRestaurants(opts.Restaurants, f.fake.Number(1, 3)) {
			if _, err := f.CreateFavorite(u, r); err != nil {
				return summary, fmt.Errorf("create favorite: %w", err)
			}
			summary.Favorites++
		}
	}

	posts := make([]*models.Post, 0, len(users)*opts.PostsPerUser)
	for _, u := range users {
		for i := 0; i < opts.PostsPerUser; i++ {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			r := opts.Restaurants[f.fake.Number(0, len(opts.Restaurants)-1)]
			post := f.BuildPost(u, r)
			if err := f.AttachImage(ctx, post); err != nil {
				return summary, err
			}
			posts = append(posts, post)
		}
	}
	if err := f.CreatePostsBatch(posts); err != nil {
		return summary, fmt.Errorf("create posts: %w", err)
	}
	summary.Posts = len(posts)
	slog.Info("seeded posts", "count", summary.Posts)

	for _, p := range posts {
		for _, u := range f.pickUsers(users, p.UserID, f.fake.Number(0, len(users)/2)) {
			if err := f.CreateLike(u, p); err != nil {
				return summary, fmt.Errorf("create like: %w", err)
			}
			summary.Likes++
		}
		for n := f.fake.Number(0, 3); n > 0; n-- {
			author := users[f.fake.Number(0, len(users)-1)]
			if _, err := f.CreateComment(author, p); err != nil {
				return summary, fmt.Errorf("create comment: %w", err)
			}
			summary.Comments++
		}
	}

	slog.Info("seed complete",
		"users", summary.Users,
		"posts", summary.Posts,
		"likes", summary.Likes,
		"comments", summary.Comments,
		"favorites", summary.Favorites,
		"dry_run", opts.DryRun,
	)
	return summary, nil
}

// pickRestaurants returns up to n distinct restaurants.
func (f *Factory) pickRestaurants(all []Restaurant, n int) []Restaurant {
	picked := make([]Restaurant, len(all))
	copy(picked, all)
	f.fake.ShuffleAnySlice(picked)
	if n > len(picked) {
		n = len(picked)
	}
	return picked[:n]
}

// pickUsers returns up to n distinct users other than exclude.
func (f *Factory) pickUsers(all []*models.User, exclude uint, n int) []*models.User {
	others := make([]*models.User, 0, len(all))
	for _, u := range all {
		if u.ID != exclude {
			others = append(others, u)
		}
	}
	f.fake.ShuffleAnySlice(others)
	if n > len(others) {
		n = len(others)
	}
	return others[:n]
}

// clearData removes every seeded row, children first.
func clearData(db *gorm.DB) error {
	all := database.PersistentModels()
	for i := len(all) - 1; i >= 0; i-- {
		// A fresh session per model; Unscoped does not clone statement state.
		session := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped()
		if err := session.Delete(all[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

// HasData reports whether any user exists yet.
func HasData(db *gorm.DB) (bool, error) {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
