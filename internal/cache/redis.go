package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ticketing-core/internal/config"
	"ticketing-core/internal/logger"
)

// Connect opens a Redis client and checks it with a PING and a test write.
func Connect(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	if err := client.Set(ctx, "ticketing:healthcheck", "ok", 5*time.Second).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis test write: %w", err)
	}

	log.Info("REDIS", fmt.Sprintf("connected to %s (db %d)", cfg.Addr, cfg.DB))
	return client, nil
}
