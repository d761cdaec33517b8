package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NERVsystems/mapty/pkg/monitoring"
)

// Cached fronts another KV with an LRU. Writes go through to the backend
// before the cache is updated, so a failed write never leaves a stale
// entry behind.
type Cached struct {
	next  KV
	cache *lru.Cache[string, string]
}

// NewCached wraps next with an LRU holding up to size keys.
func NewCached(next KV, size int) (*Cached, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) SetItem(ctx context.Context, key, value string) error {
	if err := c.next.SetItem(ctx, key, value); err != nil {
		c.cache.Remove(key)
		return err
	}
	c.cache.Add(key, value)
	monitoring.UpdateCacheSize("store", c.cache.Len())
	return nil
}

func (c *Cached) GetItem(ctx context.Context, key string) (string, bool, error) {
	if v, ok := c.cache.Get(key); ok {
		monitoring.RecordCacheHit("store")
		return v, true, nil
	}
	monitoring.RecordCacheMiss("store")

	v, ok, err := c.next.GetItem(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	c.cache.Add(key, v)
	monitoring.UpdateCacheSize("store", c.cache.Len())
	return v, true, nil
}
