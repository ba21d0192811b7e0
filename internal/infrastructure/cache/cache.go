package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type EvictionPolicy int

const (
	// LRU evicts the least recently used items
	LRU EvictionPolicy = iota
	// LFU evicts the least frequently used items
	LFU
	// FIFO evicts the oldest items
	FIFO
)

// ParseEvictionPolicy maps a config value to an EvictionPolicy.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "lru":
		return LRU, nil
	case "lfu":
		return LFU, nil
	case "fifo":
		return FIFO, nil
	}
	return LRU, fmt.Errorf("unknown eviction policy %q", s)
}

// Item represents a cache item with value and expiration time
type Item[V any] struct {
	Value       V
	Expiration  int64
	Created     time.Time
	LastAccess  time.Time
	AccessCount int
}

// IsExpired returns true if the item has expired
func (item Item[V]) IsExpired(now time.Time) bool {
	if item.Expiration == 0 {
		return false
	}
	return now.UnixNano() > item.Expiration
}

// Cache is an in-memory key/value cache with per-item lifetimes and a
// bounded size.
type Cache[V any] struct {
	items           map[string]Item[V]
	mu              sync.RWMutex
	cleanupInterval time.Duration
	maxItems        int
	evictionPolicy  EvictionPolicy
	stopCleanup     chan struct{}
	closeOnce       sync.Once
	onEvicted       func(string, V)
	stats           Stats
	now             func() time.Time
}

type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	TotalItems int64
}

// Options configures the cache
type Options[V any] struct {
	CleanupInterval time.Duration
	MaxItems        int
	EvictionPolicy  EvictionPolicy
	OnEvicted       func(string, V)
	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

// DefaultOptions returns the default cache options
func DefaultOptions[V any]() Options[V] {
	return Options[V]{
		CleanupInterval: 5 * time.Minute,
		MaxItems:        0, // No limit
		EvictionPolicy:  LRU,
	}
}

// New creates a new cache with the given options
func New[V any](options Options[V]) *Cache[V] {
	now := options.Clock
	if now == nil {
		now = time.Now
	}

	cache := &Cache[V]{
		items:           make(map[string]Item[V]),
		cleanupInterval: options.CleanupInterval,
		maxItems:        options.MaxItems,
		evictionPolicy:  options.EvictionPolicy,
		stopCleanup:     make(chan struct{}),
		onEvicted:       options.OnEvicted,
		now:             now,
	}

	if cache.cleanupInterval > 0 {
		go cache.startCleanupTimer()
	}

	return cache
}

// startCleanupTimer starts the timer for cleanup
func (c *Cache[V]) startCleanupTimer() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes expired items from the cache
func (c *Cache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if item.IsExpired(now) {
			c.deleteItem(key)
		}
	}
}

// evict removes one item according to the eviction policy
func (c *Cache[V]) evict() {
	var (
		keyToEvict  string
		oldestTime  time.Time
		lowestCount int
	)

	switch c.evictionPolicy {
	case LRU:
		for k, item := range c.items {
			if keyToEvict == "" || item.LastAccess.Before(oldestTime) {
				keyToEvict = k
				oldestTime = item.LastAccess
			}
		}
	case LFU:
		for k, item := range c.items {
			if keyToEvict == "" || item.AccessCount < lowestCount {
				keyToEvict = k
				lowestCount = item.AccessCount
			}
		}
	case FIFO:
		for k, item := range c.items {
			if keyToEvict == "" || item.Created.Before(oldestTime) {
				keyToEvict = k
				oldestTime = item.Created
			}
		}
	}

	if keyToEvict != "" {
		c.deleteItem(keyToEvict)
		c.stats.Evictions++
	}
}

// deleteItem removes an item and calls the onEvicted callback if set
func (c *Cache[V]) deleteItem(key string) {
	item, found := c.items[key]
	if !found {
		return
	}

	delete(c.items, key)
	if c.onEvicted != nil {
		c.onEvicted(key, item.Value)
	}
}

// Set adds an item to the cache. A non-positive expiration keeps the item
// until it is deleted or evicted.
func (c *Cache[V]) Set(key string, value V, expiration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	existing, exists := c.items[key]
	if c.maxItems > 0 && len(c.items) >= c.maxItems && !exists {
		c.evict()
	}

	var exp int64
	if expiration > 0 {
		exp = now.Add(expiration).UnixNano()
	}

	item := Item[V]{
		Value:      value,
		Expiration: exp,
		Created:    now,
		LastAccess: now,
	}
	if exists {
		item.Created = existing.Created
		item.AccessCount = existing.AccessCount
	}
	c.items[key] = item

	c.stats.TotalItems++
}

// Get retrieves an item from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V

	item, found := c.items[key]
	if !found {
		c.stats.Misses++
		return zero, false
	}

	now := c.now()
	if item.IsExpired(now) {
		c.deleteItem(key)
		c.stats.Misses++
		return zero, false
	}

	item.LastAccess = now
	item.AccessCount++
	c.items[key] = item

	c.stats.Hits++

	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deleteItem(key)
}

// Flush removes all items from the cache
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]Item[V])
	c.stats = Stats{}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Count returns the number of items in the cache
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Stats returns the cache statistics
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.stats
}
