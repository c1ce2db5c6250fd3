package database

import (
	"context"
	"fmt"
	"time"

	"cdr.dev/slog/v3"
	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	Client *redis.Client
	logger slog.Logger
}

// NewRedisClient connects to addr and pings it before returning.
func NewRedisClient(ctx context.Context, logger slog.Logger, addr, password string, db int) (*RedisClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is not set")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	logger.Info(ctx, "connected to redis", slog.F("addr", addr), slog.F("db", db))
	return &RedisClient{Client: client, logger: logger}, nil
}

func (c *RedisClient) Close() {
	if c.Client == nil {
		return
	}
	if err := c.Client.Close(); err != nil {
		c.logger.Warn(context.Background(), "error closing redis connection", slog.Error(err))
		return
	}
	c.logger.Info(context.Background(), "redis connection closed")
}
