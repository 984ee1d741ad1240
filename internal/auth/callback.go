package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// SessionCallbackConfig configures the consent callback.
type SessionCallbackConfig struct {
	Store  SessionStore
	Logger *slog.Logger
}

// NewSessionCallback returns a consent callback that mints an API key, binds
// it to the refresh token, and stores the session. Intended for
// OAuthHandler.SetOnConsent.
func NewSessionCallback(config SessionCallbackConfig) func(ctx context.Context, token *oauth2.Token) (*SessionGrant, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, token *oauth2.Token) (*SessionGrant, error) {
		// Without a refresh token the session would die with the first
		// access token; refuse to create one.
		if token.RefreshToken == "" {
			return nil, fmt.Errorf("no refresh token received; cannot create session")
		}

		apiKey := GenerateAPIKey()

		now := time.Now()
		record := &SessionRecord{
			APIKey:       apiKey,
			RefreshToken: token.RefreshToken,
			CreatedAt:    now,
			LastUsed:     now,
		}

		if err := config.Store.Put(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}

		logger.Info("session created",
			slog.String("api_key_prefix", apiKey[:8]+"..."),
		)

		return &SessionGrant{APIKey: apiKey}, nil
	}
}
