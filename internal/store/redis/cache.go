package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache is a cache.Cache shared across processes. Values are stored as
// JSON under prefix+key. Redis failures degrade to cache misses.
type Cache[V any] struct {
	client *redis.Client
	prefix string
}

func NewCache[V any](client *redis.Client, prefix string) *Cache[V] {
	return &Cache[V]{client: client, prefix: prefix}
}

func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var v V

	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", c.prefix+key).Msg("redis cache: get failed")
		}
		return v, false
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(err).Str("key", c.prefix+key).Msg("redis cache: corrupt entry")
		var zero V
		return zero, false
	}
	return v, true
}

func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", c.prefix+key).Msg("redis cache: marshal failed")
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", c.prefix+key).Msg("redis cache: set failed")
	}
}

func (c *Cache[V]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		log.Warn().Err(err).Str("key", c.prefix+key).Msg("redis cache: delete failed")
	}
}
