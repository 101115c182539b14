package objstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed regulation cache. TTL eviction is native to
// Redis; a miss and a backend error both read as a cache miss so the caller
// falls through to the object store.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
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

	return &RedisCache{client: client, prefix: "regulation:", ttl: ttl}, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	content, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Printf("objstore: redis cache read failed for %s: %v", key, err)
		return "", false
	}
	return content, true
}

func (c *RedisCache) Set(ctx context.Context, key, content string) {
	if err := c.client.Set(ctx, c.key(key), content, c.ttl).Err(); err != nil {
		log.Printf("objstore: redis cache write failed for %s: %v", key, err)
	}
}

func (c *RedisCache) Len(ctx context.Context) int {
	keys, err := c.client.Keys(ctx, c.prefix+"*").Result()
	if err != nil {
		return 0
	}
	return len(keys)
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
