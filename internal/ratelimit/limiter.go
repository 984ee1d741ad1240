// Package ratelimit provides rate limiting middleware using a token bucket
// algorithm, keyed per API key so one caller cannot exhaust the Slides API
// quota the whole service shares.
package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/smorand/prompt2slides/internal/middleware"
)

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the per-caller refill rate. Builds fan out into
	// several upstream API calls each, so the default is deliberately low.
	RequestsPerSecond float64
	// BurstSize is the maximum number of tokens (burst capacity).
	BurstSize int
	// Logger for rate limit events.
	Logger *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1.0,
		BurstSize:         5,
		Logger:            slog.Default(),
	}
}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	tokens         float64
	maxTokens      float64
	refillRate     float64 // tokens per second
	lastRefillTime time.Time
	mu             sync.Mutex
}

// NewTokenBucket creates a token bucket with the specified rate and burst size.
func NewTokenBucket(refillRate float64, burstSize int) *TokenBucket {
	return &TokenBucket{
		tokens:         float64(burstSize), // Start full
		maxTokens:      float64(burstSize),
		refillRate:     refillRate,
		lastRefillTime: time.Now(),
	}
}

// Allow checks if a request is allowed and consumes a token if so.
// Returns whether the request is allowed, remaining tokens, and retry-after duration.
func (tb *TokenBucket) Allow() (allowed bool, remaining int, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= 1 {
		tb.tokens--
		return true, int(tb.tokens), 0
	}

	tokensNeeded := 1 - tb.tokens
	retryAfter = time.Duration(tokensNeeded/tb.refillRate*float64(time.Second)) + time.Millisecond
	return false, 0, retryAfter
}

// refillLocked adds tokens for the elapsed time. Caller holds tb.mu.
func (tb *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefillTime)
	tb.tokens = math.Min(tb.maxTokens, tb.tokens+tb.refillRate*elapsed.Seconds())
	tb.lastRefillTime = now
}

// Remaining returns the current number of available tokens.
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return int(tb.tokens)
}

// Limit returns the maximum burst size.
func (tb *TokenBucket) Limit() int {
	return int(tb.maxTokens)
}

// Rate returns the refill rate (tokens per second).
func (tb *TokenBucket) Rate() float64 {
	return tb.refillRate
}

// Limiter provides per-caller rate limiting middleware. Each API key gets
// its own bucket; unauthenticated requests fall back to the remote address.
type Limiter struct {
	config  Config
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
}

// New creates a rate limiter with the given configuration.
func New(config Config) *Limiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1.0
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 5
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Limiter{
		config:  config,
		buckets: make(map[string]*TokenBucket),
	}
}

// bucketFor returns the bucket for a caller key, creating it on first use.
func (l *Limiter) bucketFor(key string) *TokenBucket {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok := l.buckets[key]; ok {
		return bucket
	}
	bucket = NewTokenBucket(l.config.RequestsPerSecond, l.config.BurstSize)
	l.buckets[key] = bucket
	return bucket
}

// callerKey identifies the caller for bucket selection. Run after the
// session middleware so the API key is already in the request context.
func callerKey(r *http.Request) string {
	if apiKey := middleware.GetAPIKey(r.Context()); apiKey != "" {
		return apiKey
	}
	return r.RemoteAddr
}

// Middleware returns an HTTP middleware that applies rate limiting.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket := l.bucketFor(callerKey(r))

		allowed, remaining, retryAfter := bucket.Allow()

		// Always set rate limit headers
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(bucket.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

		if !allowed {
			l.config.Logger.Warn("rate limit exceeded",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Duration("retry_after", retryAfter),
			)

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": int(math.Ceil(retryAfter.Seconds())),
			})
			return
		}

		next(w, r)
	}
}

// BucketCount returns the number of active caller buckets.
func (l *Limiter) BucketCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Prune drops buckets that have been idle long enough to refill completely.
// Intended to be called periodically; droppable buckets carry no state worth
// keeping since a fresh bucket starts full.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for key, bucket := range l.buckets {
		if bucket.Remaining() >= bucket.Limit() {
			delete(l.buckets, key)
			pruned++
		}
	}
	return pruned
}
