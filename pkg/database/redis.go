package database

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

// NewRedisClient creates a Redis client for the OAuth state nonce store.
// Returns nil, nil if Redis is not configured (host is empty).
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	_, err := retry.DoWithResult(ctx, retry.StartupConfig(), func() (string, error) {
		return client.Ping(ctx).Result()
	}, func(attempt int, err error) {
		logger.Warn("Redis not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
