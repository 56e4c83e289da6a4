package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps go-redis client with optional logger.
type Client struct {
	*redis.Client
	logger *zap.Logger
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis client connected", zap.String("addr", addr))
	return &Client{Client: rdb, logger: logger}, nil
}

// MarkOnce sets key with ttl only if it does not exist yet.
// It returns true for the first caller and false for every duplicate within ttl.
func (c *Client) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok && c.logger != nil {
		c.logger.Debug("duplicate key", zap.String("key", key))
	}
	return ok, nil
}

// Release deletes a key set by MarkOnce so the next caller is first again.
func (c *Client) Release(ctx context.Context, key string) error {
	if err := c.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
