package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"cuisine/internal/cache"
	"cuisine/internal/config"
	"cuisine/internal/database"
	"cuisine/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty database with demo data.
	SeedDemo bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional; without it caching, revocation and cross-node
	// fan-out are disabled.
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.SeedDemo {
		if err := ensureDemoData(ctx, cfg, db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

func ensureDemoData(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if cfg.IsProduction() {
		slog.Warn("demo seeding is disabled in production")
		return nil
	}

	has, err := seed.HasData(db)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	summary, err := seed.Seed(ctx, db, seed.DefaultOptions())
	if err != nil {
		return err
	}
	slog.Info("demo data seeded", "users", summary.Users, "posts", summary.Posts, "password", seed.DemoPassword)
	return nil
}
