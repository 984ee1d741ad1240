package scopes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
)

// mockTokenInfoService implements TokenInfoService for testing.
type mockTokenInfoService struct {
	TokeninfoFunc func(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error)
	calls         int
}

func (m *mockTokenInfoService) Tokeninfo(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
	m.calls++
	if m.TokeninfoFunc != nil {
		return m.TokeninfoFunc(ctx, accessToken)
	}
	return nil, errors.New("not implemented")
}

type staticTokenSource struct {
	token string
	err   error
}

func (s *staticTokenSource) Token() (*oauth2.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &oauth2.Token{AccessToken: s.token}, nil
}

func testChecker(service TokenInfoService) *Checker {
	return NewChecker(CheckerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, func(ctx context.Context) (TokenInfoService, error) {
		return service, nil
	})
}

func TestCheckBuildScopes_AllGranted(t *testing.T) {
	service := &mockTokenInfoService{
		TokeninfoFunc: func(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
			return &oauth2api.Tokeninfo{
				Scope: ScopePresentations + " " + ScopeDriveFile,
			}, nil
		},
	}
	checker := testChecker(service)

	err := checker.CheckBuildScopes(context.Background(), &staticTokenSource{token: "tok"})
	assert.NoError(t, err)
}

func TestCheckBuildScopes_MissingScope(t *testing.T) {
	service := &mockTokenInfoService{
		TokeninfoFunc: func(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
			return &oauth2api.Tokeninfo{Scope: "email profile"}, nil
		},
	}
	checker := testChecker(service)

	err := checker.CheckBuildScopes(context.Background(), &staticTokenSource{token: "tok"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingScope)
	assert.Contains(t, err.Error(), ScopePresentations)
}

func TestCheckBuildScopes_TokenSourceFailure(t *testing.T) {
	checker := testChecker(&mockTokenInfoService{})

	err := checker.CheckBuildScopes(context.Background(), &staticTokenSource{err: errors.New("refresh failed")})
	assert.ErrorIs(t, err, ErrScopeCheck)
}

func TestCheckBuildScopes_TokeninfoFailure(t *testing.T) {
	service := &mockTokenInfoService{
		TokeninfoFunc: func(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
			return nil, errors.New("invalid token")
		},
	}
	checker := testChecker(service)

	err := checker.CheckBuildScopes(context.Background(), &staticTokenSource{token: "tok"})
	assert.ErrorIs(t, err, ErrScopeCheck)
}

func TestHasScope(t *testing.T) {
	service := &mockTokenInfoService{
		TokeninfoFunc: func(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
			return &oauth2api.Tokeninfo{Scope: ScopePresentations}, nil
		},
	}
	checker := testChecker(service)
	ts := &staticTokenSource{token: "tok"}

	has, err := checker.HasScope(context.Background(), ts, ScopePresentations)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = checker.HasScope(context.Background(), ts, ScopeDriveFile)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestConsentURL(t *testing.T) {
	config := &oauth2.Config{
		ClientID:    "client-id",
		RedirectURL: "http://localhost:8080/auth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL: "https://accounts.google.com/o/oauth2/auth",
		},
		Scopes: []string{"email"},
	}

	u := ConsentURL(config, "state-1")
	assert.Contains(t, u, "include_granted_scopes=true")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "presentations")
	// The original scope set on config must not leak into the consent URL.
	assert.NotContains(t, u, "email")
}

func TestCheckBuildScopes_CachesByToken(t *testing.T) {
	service := &mockTokenInfoService{
		TokeninfoFunc: func(ctx context.Context, accessToken string) (*oauth2api.Tokeninfo, error) {
			return &oauth2api.Tokeninfo{Scope: ScopePresentations}, nil
		},
	}
	checker := testChecker(service)
	ts := &staticTokenSource{token: "tok"}

	require.NoError(t, checker.CheckBuildScopes(context.Background(), ts))
	require.NoError(t, checker.CheckBuildScopes(context.Background(), ts))
	assert.Equal(t, 1, service.calls, "second check should hit the cache")
	assert.Equal(t, 1, checker.CacheSize())

	// A different token misses.
	require.NoError(t, checker.CheckBuildScopes(context.Background(), &staticTokenSource{token: "other"}))
	assert.Equal(t, 2, service.calls)

	checker.ClearCache()
	assert.Equal(t, 0, checker.CacheSize())
}
