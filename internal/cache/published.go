// Package cache provides the Redis-backed cache for the public read path.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PublishedCache stores rendered public documents keyed by slug. Entries are
// written with a TTL and invalidated eagerly whenever a publish or delete
// changes what the public path should serve.
type PublishedCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPublishedCache connects to Redis and verifies the connection.
func NewPublishedCache(redisURL string, ttl time.Duration) (*PublishedCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &PublishedCache{
		client: client,
		prefix: "published:",
		ttl:    ttl,
	}, nil
}

// NewPublishedCacheWithClient creates a cache from an existing Redis client.
func NewPublishedCacheWithClient(client *redis.Client, ttl time.Duration) *PublishedCache {
	return &PublishedCache{
		client: client,
		prefix: "published:",
		ttl:    ttl,
	}
}

func (c *PublishedCache) key(slug string) string {
	return c.prefix + slug
}

// Get returns the cached payload for a slug. The second return value reports
// whether the entry was present.
func (c *PublishedCache) Get(ctx context.Context, slug string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, c.key(slug)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get published document: %w", err)
	}
	return payload, true, nil
}

func (c *PublishedCache) Set(ctx context.Context, slug string, payload []byte) error {
	if err := c.client.Set(ctx, c.key(slug), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache published document: %w", err)
	}
	return nil
}

func (c *PublishedCache) Invalidate(ctx context.Context, slug string) error {
	if err := c.client.Del(ctx, c.key(slug)).Err(); err != nil {
		return fmt.Errorf("invalidate published document: %w", err)
	}
	return nil
}

func (c *PublishedCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *PublishedCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
