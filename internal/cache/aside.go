package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"cuisine/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Aside returns the JSON value stored at key, or calls load, stores its result
// with ttl and returns it. Redis failures fall through to load.
func Aside[T any](ctx context.Context, rdb redis.Cmdable, namespace, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if !available(rdb) {
		return load(ctx)
	}

	raw, err := rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached T
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			observability.CacheLookups.WithLabelValues(namespace, "hit").Inc()
			return cached, nil
		}
		observability.CacheLookups.WithLabelValues(namespace, "error").Inc()
	case errors.Is(err, redis.Nil):
		observability.CacheLookups.WithLabelValues(namespace, "miss").Inc()
	default:
		observability.CacheLookups.WithLabelValues(namespace, "error").Inc()
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if encoded, marshalErr := json.Marshal(value); marshalErr == nil {
		if setErr := rdb.Set(ctx, key, encoded, ttl).Err(); setErr != nil {
			slog.WarnContext(ctx, "cache write failed",
				slog.String("key", key),
				slog.String("error", setErr.Error()),
			)
		}
	}
	return value, nil
}
