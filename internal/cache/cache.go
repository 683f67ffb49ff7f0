// Package cache implements a small in-memory TTL cache with lazy eviction.
//
// There is no background sweeper: expired entries are dropped on lookup, and
// a bounded prune runs on writes once the cache grows past its soft cap.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats is a point-in-time counter snapshot.
//
// Size > 1000 or a hit ratio under 60% are the documented signals that the
// TTL needs tuning for the workload.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	hits   uint64
	misses uint64

	// pruneAt triggers an opportunistic full sweep on Set.
	pruneAt int
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		pruneAt: 1024,
	}
}

// Get returns the cached value if present and unexpired. An expired entry
// counts as a miss and is evicted in place.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
	if len(c.entries) >= c.pruneAt {
		c.pruneLocked(now)
	}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops all entries. Counters are kept; ResetStats clears those.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache[V]) ResetStats() {
	c.mu.Lock()
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}

func (c *Cache[V]) pruneLocked(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
