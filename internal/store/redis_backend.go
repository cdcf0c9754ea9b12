package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheBackend persists cache entries in Redis, keyed under a
// fixed prefix so the proxy can share a Redis instance with other
// tenants without key collisions. It implements CacheBackend.
type RedisCacheBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCacheBackend wraps an existing *redis.Client. ttl is optional
// (zero means entries never expire in Redis, matching the cache's own
// no-expiry contract in spec); it exists only because Redis deployments
// often want a safety-valve TTL even when the application logic doesn't.
func NewRedisCacheBackend(client *redis.Client, ttl time.Duration) *RedisCacheBackend {
	return &RedisCacheBackend{client: client, prefix: "boltproxy:cache:", ttl: ttl}
}

func (r *RedisCacheBackend) key(url string) string {
	return r.prefix + url
}

func (r *RedisCacheBackend) Set(ctx context.Context, url string, body []byte) error {
	return r.client.Set(ctx, r.key(url), body, r.ttl).Err()
}

func (r *RedisCacheBackend) Get(ctx context.Context, url string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCacheBackend) Delete(ctx context.Context, url string) error {
	return r.client.Del(ctx, r.key(url)).Err()
}
