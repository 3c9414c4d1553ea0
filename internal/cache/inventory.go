package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UserKeyPrefix          = "user:%d"
	FavoritesKeyPrefix     = "favorites:%d"
	PlaceDetailsKeyPrefix  = "places:details:%s"
	PlaceSearchKeyPrefix   = "places:search:%s"
	FeedSnapshotKeyPrefix  = "feed:%s:%d:g%d"
	PasswordResetKeyPrefix = "pwreset:%s"
	BlacklistKeyPrefix     = "blacklist:%s"

	// FeedGenerationKey is bumped on every post, like or comment write.
	FeedGenerationKey = "feed:gen"
)

const (
	UserTTL         = 5 * time.Minute
	FavoritesTTL    = 5 * time.Minute
	PlaceDetailsTTL = time.Hour
	PlaceSearchTTL  = 10 * time.Minute
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func FavoritesKey(userID uint) string {
	return fmt.Sprintf(FavoritesKeyPrefix, userID)
}

func PlaceDetailsKey(placeID string) string {
	return fmt.Sprintf(PlaceDetailsKeyPrefix, placeID)
}

func PlaceSearchKey(query string) string {
	return fmt.Sprintf(PlaceSearchKeyPrefix, strings.ToLower(strings.TrimSpace(query)))
}

// FeedSnapshotKey scopes a snapshot to a view, a viewer and a feed generation.
func FeedSnapshotKey(view string, userID uint, generation int64) string {
	return fmt.Sprintf(FeedSnapshotKeyPrefix, view, userID, generation)
}

func PasswordResetKey(token string) string {
	return fmt.Sprintf(PasswordResetKeyPrefix, token)
}

func BlacklistKey(jti string) string {
	return fmt.Sprintf(BlacklistKeyPrefix, jti)
}

// Invalidate deletes keys. Errors are counted by the metrics hook and
// otherwise ignored; stale entries expire on their TTL.
func Invalidate(ctx context.Context, rdb redis.Cmdable, keys ...string) {
	if !available(rdb) || len(keys) == 0 {
		return
	}
	rdb.Del(ctx, keys...)
}

func InvalidateUser(ctx context.Context, rdb redis.Cmdable, userID uint) {
	Invalidate(ctx, rdb, UserKey(userID))
}

func InvalidateFavorites(ctx context.Context, rdb redis.Cmdable, userID uint) {
	Invalidate(ctx, rdb, FavoritesKey(userID))
}

// FeedGeneration returns the current feed generation, 0 when unknown.
func FeedGeneration(ctx context.Context, rdb redis.Cmdable) int64 {
	if !available(rdb) {
		return 0
	}
	gen, err := rdb.Get(ctx, FeedGenerationKey).Int64()
	if err != nil {
		return 0
	}
	return gen
}

// BumpFeedGeneration orphans every cached feed snapshot.
func BumpFeedGeneration(ctx context.Context, rdb redis.Cmdable) {
	if !available(rdb) {
		return
	}
	rdb.Incr(ctx, FeedGenerationKey)
}
