package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOAuthHandler() *OAuthHandler {
	return NewOAuthHandler(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:8080/auth/callback",
	}, testLogger())
}

func TestHandleAuth_ReturnsAuthorizationURL(t *testing.T) {
	h := testOAuthHandler()

	req := httptest.NewRequest(http.MethodGet, "/auth", nil)
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	authURL, err := url.Parse(body["authorization_url"])
	require.NoError(t, err)
	query := authURL.Query()
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.NotEmpty(t, query.Get("state"))
	assert.Equal(t, "offline", query.Get("access_type"))
	assert.Contains(t, query.Get("scope"), "presentations")
}

func TestHandleAuth_MethodNotAllowed(t *testing.T) {
	h := testOAuthHandler()

	req := httptest.NewRequest(http.MethodPost, "/auth", nil)
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleCallback_RejectsBadState(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing state", "?code=abc"},
		{"unknown state", "?code=abc&state=never-issued"},
		{"provider error", "?error=access_denied&error_description=user+said+no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testOAuthHandler()
			req := httptest.NewRequest(http.MethodGet, "/auth/callback"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.HandleCallback(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleCallback_StateIsSingleUse(t *testing.T) {
	h := testOAuthHandler()

	// Issue a state through the normal flow.
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	authURL, err := url.Parse(body["authorization_url"])
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	// Callback without a code consumes the state and fails on the code.
	rec = httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?state="+state, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "authorization code")

	// Replaying the same state is rejected outright.
	rec = httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?state="+state+"&code=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid state")
}

func TestHandleCallback_MintsSession(t *testing.T) {
	// Fake token endpoint so Exchange succeeds without Google.
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-123",
			"refresh_token": "rt-456",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer tokenServer.Close()

	h := testOAuthHandler()
	h.GetConfig().Endpoint = oauth2.Endpoint{
		AuthURL:  tokenServer.URL + "/auth",
		TokenURL: tokenServer.URL + "/token",
	}

	store := NewMemorySessionStore()
	h.SetOnConsent(NewSessionCallback(SessionCallbackConfig{
		Store:  store,
		Logger: testLogger(),
	}))

	// Issue a state.
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))
	var authBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &authBody))
	authURL, err := url.Parse(authBody["authorization_url"])
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	rec = httptest.NewRecorder()
	h.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?state="+state+"&code=the-code", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	apiKey, ok := body["api_key"].(string)
	require.True(t, ok, "expected api_key in callback response")

	// The minted key resolves to the refresh token.
	record, err := store.Get(context.Background(), apiKey)
	require.NoError(t, err)
	assert.Equal(t, "rt-456", record.RefreshToken)
}
