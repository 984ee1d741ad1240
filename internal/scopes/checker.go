// Package scopes verifies that an OAuth token actually carries the scopes a
// build needs before any mutation is attempted. Failing early here turns a
// confusing mid-build 403 into an actionable "re-consent" error.
package scopes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// ScopePresentations grants full read/write access to presentations. The
// build pipeline is write-heavy, so this is the one scope it cannot do
// without.
const ScopePresentations = "https://www.googleapis.com/auth/presentations"

// ScopeDriveFile grants access to files the app created. Optional: builds
// work without it, but result deletion through Drive would not.
const ScopeDriveFile = "https://www.googleapis.com/auth/drive.file"

// Sentinel errors for scope checks.
var (
	ErrMissingScope = errors.New("token is missing a required scope")
	ErrScopeCheck   = errors.New("failed to verify token scopes")
)

// RequiredScopes returns the scopes a build token must carry.
func RequiredScopes() []string {
	return []string{ScopePresentations}
}

// cachedScopes holds a verified scope set with its check time.
type cachedScopes struct {
	granted   map[string]bool
	checkedAt time.Time
}

// CheckerConfig holds configuration for the scope checker.
type CheckerConfig struct {
	CacheTTL time.Duration // Default 5 minutes
	Logger   *slog.Logger
}

// DefaultCheckerConfig returns default configuration.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		CacheTTL: 5 * time.Minute,
		Logger:   slog.Default(),
	}
}

// TokenInfoService abstracts the tokeninfo endpoint for testing.
type TokenInfoService interface {
	Tokeninfo(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error)
}

// TokenInfoServiceFactory creates a TokenInfoService. Allows mocking.
type TokenInfoServiceFactory func(ctx context.Context) (TokenInfoService, error)

// realTokenInfoService wraps the Google OAuth2 tokeninfo API.
type realTokenInfoService struct {
	service *oauth2api.Service
}

func (s *realTokenInfoService) Tokeninfo(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
	return s.service.Tokeninfo().AccessToken(accessToken).Context(ctx).Do()
}

// NewRealTokenInfoServiceFactory returns a factory backed by the real
// endpoint. Tokeninfo validates the token passed as a parameter, so the
// client itself needs no credentials.
func NewRealTokenInfoServiceFactory() TokenInfoServiceFactory {
	return func(ctx context.Context) (TokenInfoService, error) {
		service, err := oauth2api.NewService(ctx, option.WithoutAuthentication())
		if err != nil {
			return nil, fmt.Errorf("failed to create oauth2 service: %w", err)
		}
		return &realTokenInfoService{service: service}, nil
	}
}

// Checker verifies token scopes with a short-lived cache so repeated builds
// on the same token do not hammer the tokeninfo endpoint.
type Checker struct {
	config  CheckerConfig
	factory TokenInfoServiceFactory
	cache   map[string]*cachedScopes
	mu      sync.RWMutex
}

// NewChecker creates a scope checker.
func NewChecker(config CheckerConfig, factory TokenInfoServiceFactory) *Checker {
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if factory == nil {
		factory = NewRealTokenInfoServiceFactory()
	}

	return &Checker{
		config:  config,
		factory: factory,
		cache:   make(map[string]*cachedScopes),
	}
}

// cacheKey hashes the access token; raw tokens never sit in the cache map.
func cacheKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])
}

// CheckBuildScopes verifies the token behind tokenSource carries every scope
// in RequiredScopes. Returns ErrMissingScope naming the first absent scope.
func (c *Checker) CheckBuildScopes(ctx context.Context, tokenSource oauth2.TokenSource) error {
	token, err := tokenSource.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScopeCheck, err)
	}

	granted, err := c.grantedScopes(ctx, token.AccessToken)
	if err != nil {
		return err
	}

	for _, scope := range RequiredScopes() {
		if !granted[scope] {
			return fmt.Errorf("%w: %s", ErrMissingScope, scope)
		}
	}
	return nil
}

// HasScope reports whether the token behind tokenSource was granted scope.
func (c *Checker) HasScope(ctx context.Context, tokenSource oauth2.TokenSource, scope string) (bool, error) {
	token, err := tokenSource.Token()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrScopeCheck, err)
	}

	granted, err := c.grantedScopes(ctx, token.AccessToken)
	if err != nil {
		return false, err
	}
	return granted[scope], nil
}

// ConsentURL builds the incremental-auth URL that asks for the build scopes
// on top of whatever the user already granted.
func ConsentURL(config *oauth2.Config, state string) string {
	scoped := *config
	scoped.Scopes = RequiredScopes()
	return scoped.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// grantedScopes returns the scope set for an access token, consulting the
// cache first.
func (c *Checker) grantedScopes(ctx context.Context, accessToken string) (map[string]bool, error) {
	key := cacheKey(accessToken)

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()

	if ok && time.Since(cached.checkedAt) < c.config.CacheTTL {
		c.config.Logger.Debug("scope cache hit")
		return cached.granted, nil
	}

	service, err := c.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScopeCheck, err)
	}

	info, err := service.Tokeninfo(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScopeCheck, err)
	}

	// Tokeninfo reports scopes as a single space-separated string.
	granted := make(map[string]bool)
	for _, scope := range strings.Fields(info.Scope) {
		granted[scope] = true
	}

	c.mu.Lock()
	c.cache[key] = &cachedScopes{
		granted:   granted,
		checkedAt: time.Now(),
	}
	c.mu.Unlock()

	c.config.Logger.Debug("token scopes verified",
		slog.Int("scope_count", len(granted)),
	)

	return granted, nil
}

// ClearCache removes all cached scope sets.
func (c *Checker) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*cachedScopes)
	c.mu.Unlock()
}

// CacheSize returns the number of cached entries.
func (c *Checker) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
