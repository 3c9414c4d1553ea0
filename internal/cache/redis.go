// Package cache provides Redis caching utilities for the application.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cuisine/internal/observability"

	"github.com/redis/go-redis/v9"
)

var client *redis.Client

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrorRate.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrorRate.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// NewClient builds an instrumented client from either a redis:// URL or a
// bare host:port and verifies it with PING.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	rdb := redis.NewClient(opts)
	rdb.AddHook(metricsHook{})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// InitRedis initializes the process-wide client. On failure the application
// keeps running without a cache.
func InitRedis(addr string) {
	rdb, err := NewClient(context.Background(), addr)
	if err != nil {
		slog.Warn("redis unavailable, continuing without cache", slog.String("error", err.Error()))
		client = nil
		return
	}
	client = rdb
	slog.Info("redis connected")
}

// GetClient returns the current Redis client instance.
func GetClient() *redis.Client {
	return client
}

// available reports whether rdb can be used. A typed nil *redis.Client wrapped
// in the interface counts as unavailable.
func available(rdb redis.Cmdable) bool {
	if rdb == nil {
		return false
	}
	if c, ok := rdb.(*redis.Client); ok && c == nil {
		return false
	}
	return true
}
