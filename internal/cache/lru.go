// Package cache implements the multi-namespace cache layer: a TTL-aware
// LRU per namespace and a manager that routes by namespace, applies
// per-namespace caching strategies, and runs priority-ordered global
// eviction when combined limits are exceeded.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// Config bounds one namespace cache.
type Config struct {
	MaxSize        int
	DefaultTTL     time.Duration
	MaxMemoryBytes int64 // 0 means unbounded
}

type entry struct {
	key          string
	value        any
	insertedAt   time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	size         int64
	element      *list.Element
}

// CacheStats are cumulative per-namespace counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
}

// Cache is a single-namespace insertion-ordered map with LRU eviction,
// per-entry TTL and an approximate memory cap. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	items map[string]*entry
	lru   *list.List // front = most recently used
	bytes int64
	cfg   Config
	stats CacheStats

	now func() time.Time
}

// NewCache creates an empty cache with the given bounds.
func NewCache(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	return &Cache{
		items: make(map[string]*entry),
		lru:   list.New(),
		cfg:   cfg,
		now:   time.Now,
	}
}

// SetClock injects a clock for TTL tests. Not safe to call after first use.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Get returns the live value for key, marking it most-recently-used.
// Expired entries are treated as absent and removed.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	now := c.now()
	if !now.Before(e.expiresAt) {
		c.removeLocked(e)
		c.stats.Misses++
		c.stats.Expired++
		return nil, false
	}

	e.lastAccessed = now
	c.lru.MoveToFront(e.element)
	c.stats.Hits++
	return e.value, true
}

// Set inserts or updates key. A non-positive ttl uses the namespace
// default. After insertion the cache evicts least-recently-used entries
// until within its size and memory bounds.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	size := approxSize(value)

	if e, ok := c.items[key]; ok {
		c.bytes += size - e.size
		e.value = value
		e.size = size
		e.insertedAt = now
		e.expiresAt = now.Add(ttl)
		e.lastAccessed = now
		c.lru.MoveToFront(e.element)
		c.evictLocked()
		return
	}

	e := &entry{
		key:          key,
		value:        value,
		insertedAt:   now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		size:         size,
	}
	e.element = c.lru.PushFront(e)
	c.items[key] = e
	c.bytes += size

	c.evictLocked()
}

// Has reports whether key is present and live, without promoting it.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(e)
		c.stats.Expired++
		return false
	}
	return true
}

// Delete removes key if present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lru.Init()
	c.bytes = 0
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !now.Before(e.expiresAt) {
			c.removeLocked(e)
			c.stats.Expired++
			removed++
		}
		el = prev
	}
	return removed
}

// EvictOldest evicts up to n entries in LRU order, returning the count
// actually evicted. Used by the manager's global eviction pass.
func (c *Cache) EvictOldest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for evicted < n {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(*entry))
		c.stats.Evictions++
		evicted++
	}
	return evicted
}

// Len returns the number of live-or-expired entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the approximate memory held.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns cumulative counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// evictLocked drops LRU entries until within bounds. Caller holds the lock.
func (c *Cache) evictLocked() {
	for len(c.items) > c.cfg.MaxSize || (c.cfg.MaxMemoryBytes > 0 && c.bytes > c.cfg.MaxMemoryBytes) {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeLocked(back.Value.(*entry))
		c.stats.Evictions++
	}
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.items, e.key)
	c.lru.Remove(e.element)
	c.bytes -= e.size
}

// approxSize estimates the in-memory footprint of a value via its JSON
// encoding. Unencodable values get a flat estimate.
func approxSize(value any) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v)) + 16
	case []byte:
		return int64(len(v)) + 16
	}
	data, err := json.Marshal(value)
	if err != nil {
		return 64
	}
	return int64(len(data)) + 16
}
