// Package redis wraps go-redis with the handful of operations the
// dispatcher needs to persist its token and project caches across
// restarts. Scoped down from a broader domain-storage wrapper: the
// rate-limit ledger and account pool never touch Redis (see
// internal/ledger and internal/store), so this package only needs simple
// string get/set with TTL.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Key prefixes for the caches this client backs.
const (
	PrefixTokenCache   = "cc-dispatch:token_cache:"
	PrefixProjectCache = "cc-dispatch:project_cache:"
)

// Config is the Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps a go-redis client with domain-specific helpers.
type Client struct {
	rdb *goredis.Client
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.rdb.Close() }

// SetString stores a plain string value with TTL.
func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// GetString retrieves a plain string value. IsNil(err) reports a cache miss.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Delete removes keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// IsNil reports whether err is the go-redis "key not found" sentinel.
func IsNil(err error) bool {
	return err == goredis.Nil
}
