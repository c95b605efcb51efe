// Package cache stores finished analyze responses in Redis. A nil *Cache is
// valid and behaves as a cache that never hits.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	constants "yt-tags-api/api/constants"
)

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect parses a redis:// URL and pings the server. An empty URL returns
// a nil cache and no error.
func Connect(ctx context.Context, redisURL string, ttl time.Duration) (*Cache, error) {
	if redisURL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

func (c *Cache) Enabled() bool { return c != nil }

// Key derives the cache key for one upstream request.
func Key(vendor, model, prompt string) string {
	sum := sha256.Sum256([]byte(vendor + "|" + model + "|" + prompt))
	return constants.CacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get reports a miss on any Redis failure; failures other than a missing key
// are logged.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return data, true
	}
	if !errors.Is(err, redis.Nil) {
		constants.Logger.Warn("Redis Get failed", "key", key, "error", err)
	}
	return nil, false
}

func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if c == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		constants.Logger.Warn("Failed to cache response", "key", key, "error", err)
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
