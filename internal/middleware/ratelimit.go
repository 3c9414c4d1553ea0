package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"cuisine/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when the counter store
// cannot be reached.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503.
	FailClosed
)

// ErrNoLimiterStore is returned when limiting is active but no Redis is
// configured.
var ErrNoLimiterStore = errors.New("rate limit store not configured")

// Limit is a named fixed-window quota.
type Limit struct {
	Name   string
	Max    int
	Window time.Duration
	Policy FailPolicy
}

// Decision is the outcome of one counter increment.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func limitingDisabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// CheckRateLimit counts one hit for id against l. Counters live under
// rl:<name>:<id> and expire with the window. Outside production-like
// environments every call is allowed without touching Redis.
func CheckRateLimit(ctx context.Context, rdb redis.Cmdable, l Limit, id string) (Decision, error) {
	if limitingDisabled() {
		return Decision{Allowed: true, Remaining: l.Max}, nil
	}
	if rdb == nil {
		return Decision{}, ErrNoLimiterStore
	}

	key := fmt.Sprintf("rl:%s:%s", l.Name, id)
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, l.Window).Err(); err != nil {
			return Decision{}, err
		}
	}

	d := Decision{
		Allowed:   count <= int64(l.Max),
		Remaining: max(l.Max-int(count), 0),
	}
	if !d.Allowed {
		ttl, err := rdb.PTTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			ttl = l.Window
		}
		d.RetryAfter = ttl
	}
	return d, nil
}

// RateLimit enforces l per caller. Signed-in callers are counted by user,
// everyone else by IP. A nil rdb is treated as an unavailable store.
func RateLimit(rdb redis.Cmdable, l Limit) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		id := "ip:" + c.IP()
		if session := SessionFrom(c); session.Authenticated() {
			id = "user:" + strconv.FormatUint(uint64(session.UserID), 10)
		}

		d, err := CheckRateLimit(ctx, rdb, l, id)
		if err != nil {
			if l.Policy == FailOpen {
				return c.Next()
			}
			Logger.WarnContext(ctx, "rate limit store unavailable",
				slog.String("limit", l.Name),
				slog.String("path", c.Path()),
				slog.String("error", err.Error()),
			)
			return models.RespondWithError(c, fiber.StatusServiceUnavailable,
				models.NewUnavailableError("Please try again shortly", err))
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(l.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("Too many requests, please slow down"))
		}
		return c.Next()
	}
}
