package httpx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the advisory read-through store in front of the database. Misses
// and errors are equivalent; the DB stays the source of truth.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

type RedisCache struct{ R *redis.Client }

func NewRedisCache(r *redis.Client) *RedisCache { return &RedisCache{R: r} }

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	s, err := c.R.Get(ctx, key).Result()
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	_ = c.R.Set(ctx, key, value, ttl).Err()
}
