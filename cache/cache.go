// Package cache provides an optional Redis-backed byte cache. It has no
// knowledge of retrieval, generation, or any domain entity — callers
// marshal whatever they want cached and hand this package bytes plus a
// key.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss indicates the key was not present (or had expired).
var ErrMiss = errors.New("cache: miss")

// Client is the capability contract a caller depends on, so tests can
// substitute an in-memory fake without pulling in a real Redis server.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string // key namespace; defaults to "tiic:"
}

// RedisClient implements Client against a real Redis server.
type RedisClient struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient dials Redis and verifies connectivity with a bounded ping.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tiic:"
	}
	return &RedisClient{rdb: rdb, prefix: prefix}, nil
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
