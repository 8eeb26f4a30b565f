package entitlement

import (
	"context"
	"time"

	"github.com/dmitrymomot/paygate/pkg/cache"
)

// MemoryCache is a process-local cache for single-instance deployments
// and tests. Entries are evicted by LRU and by TTL.
type MemoryCache struct {
	lru *cache.LRUCache[Key, bool]
}

func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{lru: cache.NewLRUCache[Key, bool](capacity)}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (bool, bool, error) {
	v, ok := c.lru.Get(key)
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key Key, entitled bool, ttl time.Duration) error {
	c.lru.Put(key, entitled, ttl)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key Key) error {
	c.lru.Remove(key)
	return nil
}

func (c *MemoryCache) InvalidateMany(_ context.Context, keys []Key) error {
	for _, k := range keys {
		c.lru.Remove(k)
	}
	return nil
}
