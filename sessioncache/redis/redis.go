// Package redis provides a Redis-backed implementation of the
// sessioncache.Cache interface using go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/tiangong-lca/mcp-server-go/sessioncache"
)

// Config for the Redis-backed session cache. Defaults can be loaded via
// envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Password for the Redis instance. ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// DB index. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix prepended to every cache key. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX"`
}

// Cache implements sessioncache.Cache on a Redis instance.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Cache, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{client: cl, keyPrefix: cfg.KeyPrefix}, nil
}

// NewFromEnv builds a Cache using envdecode to populate Config.
func NewFromEnv() (*Cache, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (c *Cache) key(k string) string { return c.keyPrefix + k }

// Get retrieves the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// SetEx stores value under key with the given TTL.
func (c *Cache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.SetEx(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis setex %s: %w", key, err)
	}
	return nil
}

// Expire refreshes the TTL of an existing entry. A missing key is not
// an error: the entry simply expired between the read and the refresh.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, c.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error { return c.client.Close() }

// Compile-time interface check
var _ sessioncache.Cache = (*Cache)(nil)
