// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"cuisine/internal/database"
	"cuisine/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory SQLite database private to t.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewRedis returns a client bound to a fresh miniredis server.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// CreateUser inserts a user with a placeholder password hash.
func CreateUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "$2a$10$placeholderplaceholderplaceholderplaceholderpla",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreatePost inserts a post with one image per key.
func CreatePost(t *testing.T, db *gorm.DB, userID uint, title string, keys ...string) *models.Post {
	t.Helper()
	post := &models.Post{
		Title:   title,
		Content: title + " content",
		UserID:  userID,
		PlaceID: "place-" + title,
		Date:    "2024-05-01",
	}
	for i, k := range keys {
		post.Images = append(post.Images, models.PostImage{Position: i, StorageKey: k})
	}
	require.NoError(t, db.Create(post).Error)
	return post
}
