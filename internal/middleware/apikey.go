// Package middleware carries the HTTP middlewares: API-key session
// resolution and per-key rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/smorand/prompt2slides/internal/auth"
	"github.com/smorand/prompt2slides/internal/cache"
)

// Context keys for data resolved during authentication.
type contextKey string

const (
	// APIKeyContextKey is the context key for the API key.
	APIKeyContextKey contextKey = "api_key"
	// UserEmailContextKey is the context key for the user email.
	UserEmailContextKey contextKey = "user_email"
	// TokenSourceContextKey is the context key for the oauth2 token source.
	TokenSourceContextKey contextKey = "token_source"
)

// Sentinel errors for session resolution.
var (
	ErrMissingAuthHeader   = errors.New("missing Authorization header")
	ErrInvalidAuthHeader   = errors.New("invalid Authorization header format")
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrSessionLookupFailed = errors.New("failed to look up session")
)

// SessionMiddlewareConfig holds configuration for the session middleware.
type SessionMiddlewareConfig struct {
	Store             auth.SessionStore
	OAuthClientID     string
	OAuthClientSecret string
	CacheTTL          time.Duration // Default 5 minutes
	TouchLastUsed     bool          // Whether to update last_used timestamps (default true)
	Logger            *slog.Logger
}

// DefaultSessionMiddlewareConfig returns default configuration.
func DefaultSessionMiddlewareConfig() SessionMiddlewareConfig {
	return SessionMiddlewareConfig{
		CacheTTL:      5 * time.Minute,
		TouchLastUsed: true,
		Logger:        slog.Default(),
	}
}

// SessionMiddleware resolves Bearer API keys into OAuth token sources and
// places them in the request context for the handlers downstream. Lookups
// go through a bounded LRU so steady traffic does not hit Firestore on
// every request.
type SessionMiddleware struct {
	config SessionMiddlewareConfig
	cache  *cache.SessionCache
}

// NewSessionMiddleware creates a session middleware.
func NewSessionMiddleware(config SessionMiddlewareConfig) *SessionMiddleware {
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &SessionMiddleware{
		config: config,
		cache: cache.NewSessionCache(cache.SessionCacheConfig{
			TTL:    config.CacheTTL,
			Logger: config.Logger,
		}),
	}
}

// Middleware returns an HTTP middleware that authenticates requests.
func (m *SessionMiddleware) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		apiKey, err := extractAPIKey(r)
		if err != nil {
			m.writeUnauthorized(w, err.Error())
			return
		}

		session, err := m.resolveSession(ctx, apiKey)
		if err != nil {
			if errors.Is(err, ErrInvalidAPIKey) {
				m.writeUnauthorized(w, err.Error())
				return
			}
			m.config.Logger.Error("failed to resolve session", slog.Any("error", err))
			m.writeError(w, http.StatusInternalServerError, "authentication failed")
			return
		}

		// last_used is bookkeeping; never block the request on it.
		if m.config.TouchLastUsed {
			go m.touchLastUsed(apiKey)
		}

		ctx = context.WithValue(ctx, APIKeyContextKey, apiKey)
		ctx = context.WithValue(ctx, UserEmailContextKey, session.Record.UserEmail)
		ctx = context.WithValue(ctx, TokenSourceContextKey, session.TokenSource)

		next(w, r.WithContext(ctx))
	}
}

// extractAPIKey extracts the API key from the Authorization header.
func extractAPIKey(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidAuthHeader
	}

	apiKey := strings.TrimSpace(parts[1])
	if apiKey == "" {
		return "", ErrInvalidAuthHeader
	}

	return apiKey, nil
}

// resolveSession validates the API key and returns its session, from cache
// when fresh.
func (m *SessionMiddleware) resolveSession(ctx context.Context, apiKey string) (*cache.CachedSession, error) {
	if session, ok := m.cache.Get(apiKey); ok {
		m.config.Logger.Debug("session cache hit")
		return session, nil
	}

	m.config.Logger.Debug("session cache miss, looking up in store")

	record, err := m.config.Store.Get(ctx, apiKey)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, ErrSessionLookupFailed
	}

	session := &cache.CachedSession{
		Record:      record,
		TokenSource: m.tokenSourceFor(ctx, record.RefreshToken),
		CachedAt:    time.Now(),
	}
	m.cache.Set(apiKey, session)

	return session, nil
}

// tokenSourceFor builds a self-refreshing token source from a refresh token.
func (m *SessionMiddleware) tokenSourceFor(ctx context.Context, refreshToken string) oauth2.TokenSource {
	config := &oauth2.Config{
		ClientID:     m.config.OAuthClientID,
		ClientSecret: m.config.OAuthClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       auth.DefaultScopes,
	}
	return config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// touchLastUsed updates the session's last_used timestamp.
func (m *SessionMiddleware) touchLastUsed(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.config.Store.TouchLastUsed(ctx, apiKey); err != nil {
		m.config.Logger.Error("failed to update last_used timestamp",
			slog.String("api_key", apiKey[:8]+"..."),
			slog.Any("error", err),
		)
	}
}

// InvalidateCache removes an API key from the cache.
func (m *SessionMiddleware) InvalidateCache(apiKey string) {
	m.cache.Invalidate(apiKey)
}

// ClearCache clears all cached sessions.
func (m *SessionMiddleware) ClearCache() {
	m.cache.Clear()
}

// CacheSize returns the number of cached sessions.
func (m *SessionMiddleware) CacheSize() int {
	return m.cache.Size()
}

// writeUnauthorized writes a 401 Unauthorized response.
func (m *SessionMiddleware) writeUnauthorized(w http.ResponseWriter, message string) {
	m.writeError(w, http.StatusUnauthorized, message)
}

// writeError writes a JSON error response.
func (m *SessionMiddleware) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// GetAPIKey retrieves the API key from the request context.
func GetAPIKey(ctx context.Context) string {
	if v := ctx.Value(APIKeyContextKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetUserEmail retrieves the user email from the request context.
func GetUserEmail(ctx context.Context) string {
	if v := ctx.Value(UserEmailContextKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetTokenSource retrieves the OAuth2 token source from the request context.
func GetTokenSource(ctx context.Context) oauth2.TokenSource {
	if v := ctx.Value(TokenSourceContextKey); v != nil {
		return v.(oauth2.TokenSource)
	}
	return nil
}
