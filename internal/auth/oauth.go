// Package auth implements the OAuth2 consent flow and the API-key sessions
// that let callers build presentations without handling Google tokens
// directly. A session binds a generated API key to the refresh token obtained
// during consent.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultScopes are requested during consent. Presentations covers the build
// pipeline; drive.file lets the service manage the decks it creates.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/presentations",
	"https://www.googleapis.com/auth/drive.file",
}

// OAuthConfig holds OAuth2 configuration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// SessionGrant is what a completed consent flow hands back to the caller.
type SessionGrant struct {
	APIKey string `json:"api_key"`
}

// OAuthHandler drives the OAuth2 authorization-code flow.
type OAuthHandler struct {
	config    *oauth2.Config
	logger    *slog.Logger
	states    map[string]bool // one-shot state tokens
	mu        sync.RWMutex
	onConsent func(ctx context.Context, token *oauth2.Token) (*SessionGrant, error)
}

// NewOAuthHandler creates an OAuth handler.
func NewOAuthHandler(config OAuthConfig, logger *slog.Logger) *OAuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURI,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}

	return &OAuthHandler{
		config: oauth2Config,
		logger: logger,
		states: make(map[string]bool),
	}
}

// SetOnConsent registers the callback invoked with the token obtained at the
// end of the flow. Its SessionGrant is included in the callback response.
func (h *OAuthHandler) SetOnConsent(fn func(ctx context.Context, token *oauth2.Token) (*SessionGrant, error)) {
	h.onConsent = fn
}

// HandleAuth handles GET /auth and initiates the OAuth2 flow.
func (h *OAuthHandler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate state", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	h.mu.Lock()
	h.states[state] = true
	h.mu.Unlock()

	// ApprovalForce guarantees a refresh token even for repeat consents;
	// without one there is nothing to bind a session to.
	authURL := h.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	h.logger.Info("OAuth2 flow initiated",
		slog.String("redirect_uri", h.config.RedirectURL),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"authorization_url": authURL,
		"message":           "Please visit the authorization URL to complete authentication",
	})
}

// HandleCallback handles GET /auth/callback with the OAuth2 authorization code.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		errDesc := r.URL.Query().Get("error_description")
		h.logger.Error("OAuth2 error from provider",
			slog.String("error", errParam),
			slog.String("description", errDesc),
		)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("OAuth2 error: %s - %s", errParam, errDesc))
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		h.writeError(w, http.StatusBadRequest, "missing state parameter")
		return
	}

	h.mu.Lock()
	validState := h.states[state]
	if validState {
		delete(h.states, state)
	}
	h.mu.Unlock()

	if !validState {
		h.writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("failed to exchange code for token", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "failed to exchange code for token")
		return
	}

	h.logger.Info("OAuth2 token obtained",
		slog.Bool("has_refresh_token", token.RefreshToken != ""),
		slog.Time("expiry", token.Expiry),
	)

	response := map[string]any{
		"message": "Authentication successful",
		"expiry":  token.Expiry,
	}

	if h.onConsent != nil {
		grant, err := h.onConsent(r.Context(), token)
		if err != nil {
			h.logger.Error("consent callback failed", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		if grant != nil {
			response["api_key"] = grant.APIKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// GetAuthURL returns the OAuth2 authorization URL with the given state.
func (h *OAuthHandler) GetAuthURL(state string) string {
	return h.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges an authorization code for tokens.
func (h *OAuthHandler) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return h.config.Exchange(ctx, code)
}

// TokenSourceForRefreshToken builds a self-refreshing token source from a
// stored refresh token.
func (h *OAuthHandler) TokenSourceForRefreshToken(ctx context.Context, refreshToken string) oauth2.TokenSource {
	return h.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// RefreshToken exchanges a refresh token for a fresh access token.
func (h *OAuthHandler) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return h.TokenSourceForRefreshToken(ctx, refreshToken).Token()
}

// GetConfig returns the OAuth2 config (for testing).
func (h *OAuthHandler) GetConfig() *oauth2.Config {
	return h.config
}

// writeError writes an error response.
func (h *OAuthHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
