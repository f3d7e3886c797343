// Package cache keeps finished images in Redis keyed by scene fingerprint.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "rayforge:image:"

type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps rdb. A zero ttl stores images without expiry.
func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Connect dials addr and pings it once so a bad address fails at startup.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *RedisCache) Key(fingerprint string) string {
	return c.prefix + fingerprint
}

// Get returns the image stored under fingerprint. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.Key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, fingerprint string, image []byte) error {
	return c.rdb.Set(ctx, c.Key(fingerprint), image, c.ttl).Err()
}

// Ping checks the connection for the deep health check.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
