package cache

import (
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/smorand/prompt2slides/internal/auth"
)

// CachedSession pairs a resolved session record with its reusable token
// source. The token source refreshes access tokens by itself, so the cache
// only needs to avoid the Firestore lookup.
type CachedSession struct {
	Record      *auth.SessionRecord
	TokenSource oauth2.TokenSource
	CachedAt    time.Time
}

// SessionCacheConfig holds configuration for the session cache.
type SessionCacheConfig struct {
	MaxEntries int           // Maximum number of sessions to cache
	TTL        time.Duration // How long a store lookup stays valid
	Logger     *slog.Logger
}

// DefaultSessionCacheConfig returns default configuration.
func DefaultSessionCacheConfig() SessionCacheConfig {
	return SessionCacheConfig{
		MaxEntries: 500,
		TTL:        5 * time.Minute,
		Logger:     slog.Default(),
	}
}

// SessionCache caches API-key session lookups.
type SessionCache struct {
	lru    *LRU
	config SessionCacheConfig
}

// NewSessionCache creates a session cache.
func NewSessionCache(config SessionCacheConfig) *SessionCache {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}
	if config.MaxEntries == 0 {
		config.MaxEntries = 500
	}

	return &SessionCache{
		lru: NewLRU(LRUConfig{
			MaxEntries: config.MaxEntries,
			DefaultTTL: config.TTL,
			Logger:     config.Logger,
		}),
		config: config,
	}
}

// Get retrieves a session from the cache by API key.
func (c *SessionCache) Get(apiKey string) (*CachedSession, bool) {
	val, ok := c.lru.Get(apiKey)
	if !ok {
		return nil, false
	}
	return val.(*CachedSession), true
}

// Set stores a session in the cache.
func (c *SessionCache) Set(apiKey string, session *CachedSession) {
	c.lru.SetWithTTL(apiKey, session, c.config.TTL)
}

// Invalidate removes a session from the cache.
func (c *SessionCache) Invalidate(apiKey string) {
	c.lru.Delete(apiKey)
}

// Clear removes all sessions from the cache.
func (c *SessionCache) Clear() {
	c.lru.Clear()
}

// Size returns the number of cached sessions.
func (c *SessionCache) Size() int {
	return c.lru.Size()
}

// Metrics returns cache metrics.
func (c *SessionCache) Metrics() Metrics {
	return c.lru.Metrics()
}
