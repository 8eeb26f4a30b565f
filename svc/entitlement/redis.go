package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	flagEntitled    = "1"
	flagNotEntitled = "0"
)

// RedisCache keeps entitlement flags in Redis.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key Key) (bool, bool, error) {
	val, err := c.client.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, errors.Join(ErrCacheUnavailable, err)
	}
	return val == flagEntitled, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key Key, entitled bool, ttl time.Duration) error {
	val := flagNotEntitled
	if entitled {
		val = flagEntitled
	}
	if err := c.client.Set(ctx, key.String(), val, ttl).Err(); err != nil {
		return errors.Join(ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, key Key) error {
	if err := c.client.Del(ctx, key.String()).Err(); err != nil {
		return errors.Join(ErrCacheUnavailable, err)
	}
	return nil
}

// InvalidateMany deletes every key in one pipeline. Keys are deleted one
// command each so the pipeline also works against a cluster.
func (c *RedisCache) InvalidateMany(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k.String())
		}
		return nil
	})
	if err != nil {
		return errors.Join(ErrCacheUnavailable, err)
	}
	return nil
}
