// Command main runs the database seeder for Cuisine.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"cuisine/internal/config"
	"cuisine/internal/database"
	"cuisine/internal/seed"
	"cuisine/internal/service"
	"cuisine/internal/storage"
)

func main() {
	// Parse command line flags
	numUsers := flag.Int("users", 20, "Number of users to create")
	postsPerUser := flag.Int("posts", 5, "Number of posts per user")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Build data without writing it")
	skipBcrypt := flag.Bool("fast", false, "Store the demo password unhashed (accounts cannot sign in)")
	fixture := flag.String("restaurants", "", "YAML file of restaurants to seed instead of the built-in set")
	withImages := flag.Bool("images", true, "Upload placeholder photos when an object store is configured")
	flag.Parse()

	log.Println("Database Seeder")
	log.Printf("Target: %d users, %d posts each, clean=%v dry-run=%v\n", *numUsers, *postsPerUser, *shouldClean, *dryRun)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	opts := seed.Options{
		NumUsers:     *numUsers,
		PostsPerUser: *postsPerUser,
		ShouldClean:  *shouldClean,
		DryRun:       *dryRun,
		SkipBcrypt:   *skipBcrypt,
		MaxDays:      90,
	}

	if *fixture != "" {
		data, err := os.ReadFile(*fixture)
		if err != nil {
			log.Fatalf("Failed to read restaurants file: %v", err)
		}
		if opts.Restaurants, err = seed.ParseRestaurants(data); err != nil {
			log.Fatalf("Invalid restaurants file: %v", err)
		}
	}

	if *withImages && cfg.StorageEnabled() {
		blobs, err := storage.NewS3Store(cfg)
		if err != nil {
			log.Fatalf("Failed to open object store: %v", err)
		}
		opts.Images = service.NewImageService(blobs, cfg.ImageMaxUploadSizeMB)
	}

	summary, err := seed.Seed(context.Background(), db, opts)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Done: %d users, %d posts, %d likes, %d comments, %d favorites",
		summary.Users, summary.Posts, summary.Likes, summary.Comments, summary.Favorites)
	log.Printf("All seeded users have the password: %s", seed.DemoPassword)
}
