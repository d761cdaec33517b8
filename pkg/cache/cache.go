// Package cache provides an expiring in-memory cache for upstream
// responses such as map tiles.
package cache

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/NERVsystems/mapty/pkg/monitoring"
)

// Item represents a cached item with expiration
type Item[V any] struct {
	Value      V
	Expiration int64
}

// Expired checks if the item has expired
func (item Item[V]) Expired(now int64) bool {
	return item.Expiration != 0 && now > item.Expiration
}

// TTLCache is a thread-safe cache with time-based expiration and a size
// bound. When full, the entries closest to expiry are evicted first.
// Hits, misses and size are reported under the cache's name.
type TTLCache[V any] struct {
	name            string
	items           map[string]Item[V]
	mu              sync.RWMutex
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	maxItems        int
	stop            chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewTTLCache creates a cache and starts its cleanup loop when
// cleanupInterval is positive. maxItems <= 0 means unbounded.
func NewTTLCache[V any](name string, defaultTTL, cleanupInterval time.Duration, maxItems int) *TTLCache[V] {
	c := &TTLCache[V]{
		name:            name,
		items:           make(map[string]Item[V]),
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		maxItems:        maxItems,
		stop:            make(chan struct{}),
		now:             time.Now,
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Set adds an item to the cache with the default TTL
func (c *TTLCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds an item with a specific TTL; ttl <= 0 never expires.
func (c *TTLCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = c.now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	c.items[key] = Item[V]{Value: value, Expiration: expiration}
	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldest()
	}
	n := len(c.items)
	c.mu.Unlock()

	monitoring.UpdateCacheSize(c.name, n)
}

// Get returns the cached value and whether it was present and fresh.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !found {
		monitoring.RecordCacheMiss(c.name)
		return zero, false
	}
	if item.Expired(c.now().UnixNano()) {
		c.Delete(key)
		monitoring.RecordCacheMiss(c.name)
		return zero, false
	}
	monitoring.RecordCacheHit(c.name)
	return item.Value, true
}

// Delete removes an item from the cache
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of items in the cache
func (c *TTLCache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items from the cache
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]Item[V])
	c.mu.Unlock()
	monitoring.UpdateCacheSize(c.name, 0)
}

// evictOldest must be called with c.mu held.
func (c *TTLCache[V]) evictOldest() {
	excess := len(c.items) - c.maxItems
	if excess <= 0 {
		return
	}

	type keyExpiration struct {
		key        string
		expiration int64
	}
	keys := make([]keyExpiration, 0, len(c.items))
	for k, v := range c.items {
		exp := v.Expiration
		if exp == 0 {
			exp = math.MaxInt64
		}
		keys = append(keys, keyExpiration{k, exp})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].expiration < keys[j].expiration })

	for i := 0; i < excess; i++ {
		delete(c.items, keys[i].key)
	}
}

func (c *TTLCache[V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *TTLCache[V]) deleteExpired() {
	now := c.now().UnixNano()

	c.mu.Lock()
	for k, v := range c.items {
		if v.Expired(now) {
			delete(c.items, k)
		}
	}
	n := len(c.items)
	c.mu.Unlock()

	monitoring.UpdateCacheSize(c.name, n)
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (c *TTLCache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
