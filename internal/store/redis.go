package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultResponsePrefix namespaces response bodies in Redis.
const DefaultResponsePrefix = "enrich:resp:"

// RedisResponseCache keeps raw source response bodies across runs. It
// satisfies providers.ResponseCache.
type RedisResponseCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisResponseCache connects to addr and verifies the connection.
func NewRedisResponseCache(ctx context.Context, addr string, ttl time.Duration) (*RedisResponseCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisResponseCacheWithClient(rdb, DefaultResponsePrefix, ttl), nil
}

func NewRedisResponseCacheWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisResponseCache {
	return &RedisResponseCache{client: client, prefix: prefix, ttl: ttl}
}

// Key maps a request URL to its Redis key. URLs are hashed because they may
// carry API keys.
func (c *RedisResponseCache) Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *RedisResponseCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.Key(url)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (c *RedisResponseCache) Set(ctx context.Context, url string, body []byte) error {
	if err := c.client.Set(ctx, c.Key(url), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisResponseCache) Close() error {
	return c.client.Close()
}
