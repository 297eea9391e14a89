// Package cache provides the single generic LRU(+TTL) implementation shared
// by every independent cache instance the design calls for: the embedding
// cache (C1), the conflict-check cache (C6), the retrieval and search
// caches (C8/C11), and the classification and response caches (C10).
//
// Each caller constructs its own instance — caches are never shared across
// concerns — but all of them get uniform statistics and eviction behavior
// for free.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats mirrors the counters the original implementation exposed per cache:
// hits, misses, evictions, expirations, current size, and a derived hit
// rate.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
}

// HitRate returns Hits / (Hits + Misses), or 0 when the cache has never
// been queried.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	hasTTL    bool
}

// Cache is a generic LRU cache with an optional per-entry TTL. TTL applies
// only when constructed with a nonzero TTL (the search-result cache, C11);
// every other cache in the design is pure LRU (TTL zero value disables
// expiration, matching §9 "TTL applies only to the search cache").
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	lru   *lru.Cache[K, *entry[V]]
	ttl   time.Duration
	stats Stats
}

// New constructs a Cache with the given capacity and optional TTL (zero
// disables expiration).
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	backing, err := lru.New[K, *entry[V]](capacity)
	if err != nil {
		// lru.New only errors on capacity <= 0, guarded above.
		panic(err)
	}
	return &Cache[K, V]{lru: backing, ttl: ttl}
}

// Get returns the cached value for key, evicting it first if it has
// expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	if e.hasTTL && time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		c.stats.Expirations++
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set inserts or overwrites a value. If inserting exceeds capacity, the
// least-recently-used entry is evicted and counted in Stats.Evictions.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[V]{value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
		e.hasTTL = true
	}
	evicted := c.lru.Add(key, e)
	if evicted {
		c.stats.Evictions++
	}
}

// Remove deletes a key if present; it is a no-op otherwise.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Purge clears the cache without resetting its statistics.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns a snapshot of the running counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.lru.Len()
	return s
}
