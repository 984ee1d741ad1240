// Package cache provides a bounded TTL'd LRU and the session cache built on
// it. Both exist to keep hot-path lookups (API key to token source) off
// Firestore.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

// Entry represents a cached entry with expiration.
type Entry struct {
	Key       string
	Value     any
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Metrics tracks cache statistics.
type Metrics struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total) * 100
}

// LRUConfig holds configuration for the LRU cache.
type LRUConfig struct {
	MaxEntries int           // Maximum number of entries (0 = unlimited)
	DefaultTTL time.Duration // Default TTL for entries without explicit expiration
	Logger     *slog.Logger
}

// DefaultLRUConfig returns default configuration.
func DefaultLRUConfig() LRUConfig {
	return LRUConfig{
		MaxEntries: 1000,
		DefaultTTL: 5 * time.Minute,
		Logger:     slog.Default(),
	}
}

// LRU implements a thread-safe LRU cache with TTL support.
type LRU struct {
	config  LRUConfig
	cache   map[string]*list.Element
	lruList *list.List
	mu      sync.RWMutex
	metrics Metrics
}

// NewLRU creates a new LRU cache.
func NewLRU(config LRUConfig) *LRU {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 5 * time.Minute
	}

	return &LRU{
		config:  config,
		cache:   make(map[string]*list.Element),
		lruList: list.New(),
	}
}

// Get retrieves a value from the cache. Returns the value and true if found
// and not expired.
func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		c.metrics.Misses++
		return nil, false
	}

	entry := elem.Value.(*Entry)
	if entry.IsExpired() {
		c.removeElementLocked(elem)
		c.metrics.Misses++
		c.metrics.Expirations++
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	c.metrics.Hits++
	return entry.Value, true
}

// Set stores a value in the cache with the default TTL.
func (c *LRU) Set(key string, value any) {
	c.SetWithTTL(key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value in the cache with a specific TTL.
func (c *LRU) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		entry := elem.Value.(*Entry)
		entry.Value = value
		entry.ExpiresAt = time.Now().Add(ttl)
		c.lruList.MoveToFront(elem)
		return
	}

	if c.config.MaxEntries > 0 && c.lruList.Len() >= c.config.MaxEntries {
		c.evictOldestLocked()
	}

	entry := &Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}
	c.cache[key] = c.lruList.PushFront(entry)
}

// Delete removes a key from the cache.
func (c *LRU) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return false
	}
	c.removeElementLocked(elem)
	return true
}

// Clear removes all entries from the cache.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*list.Element)
	c.lruList = list.New()
}

// Size returns the number of entries in the cache.
func (c *LRU) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Metrics returns a copy of the current cache metrics.
func (c *LRU) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// Cleanup removes all expired entries. Intended to be called periodically;
// expired entries otherwise linger until read or evicted.
func (c *LRU) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, elem := range c.cache {
		entry := elem.Value.(*Entry)
		if entry.IsExpired() {
			c.removeElementLocked(elem)
			c.metrics.Expirations++
			count++
		}
	}
	return count
}

// evictOldestLocked removes the least recently used entry. Caller holds c.mu.
func (c *LRU) evictOldestLocked() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.removeElementLocked(elem)
	c.metrics.Evictions++

	entry := elem.Value.(*Entry)
	c.config.Logger.Debug("cache eviction",
		slog.String("key", entry.Key),
	)
}

// removeElementLocked removes an element from the cache. Caller holds c.mu.
func (c *LRU) removeElementLocked(elem *list.Element) {
	entry := elem.Value.(*Entry)
	delete(c.cache, entry.Key)
	c.lruList.Remove(elem)
}
