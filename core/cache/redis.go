// Package cache connects the shared Redis instance used by the input validator.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "cache"

// Connect creates a Redis client and verifies the connection.
// An empty address disables Redis and returns a nil client.
func Connect(ctx context.Context, cfg coreconfig.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		logger.Info(ctx, component, "redis.connect",
			slog.String("status", "skip"),
			slog.String("cause", "redis.addr is empty; using process-local stores"),
		)
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		logger.Error(ctx, component, "redis.connect",
			slog.String("status", "fail"),
			slog.String("target", cfg.Addr),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	logger.Info(ctx, component, "redis.connect",
		slog.String("status", "ok"),
		slog.String("target", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Duration("duration", logger.Took(start)),
	)
	return rdb, nil
}
