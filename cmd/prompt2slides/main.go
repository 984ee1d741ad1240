// Command prompt2slides serves an HTTP API that turns AI-chat markdown into
// Google Slides presentations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/smorand/prompt2slides/internal/auth"
	"github.com/smorand/prompt2slides/internal/builder"
	"github.com/smorand/prompt2slides/internal/middleware"
	"github.com/smorand/prompt2slides/internal/ratelimit"
	"github.com/smorand/prompt2slides/internal/results"
	"github.com/smorand/prompt2slides/internal/retry"
	"github.com/smorand/prompt2slides/internal/scopes"
	"github.com/smorand/prompt2slides/internal/transport"
)

const (
	defaultSessionsCollection = "sessions"
	defaultResultsCollection  = "results"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevelFromEnv(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	projectID := os.Getenv("GOOGLE_PROJECT_ID")

	oauthConfig, err := loadOAuthConfig(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load oauth config: %w", err)
	}

	sessionStore, err := newSessionStore(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer sessionStore.Close()

	resultStore, closeResults, err := newResultStore(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}
	defer closeResults()

	oauthHandler := auth.NewOAuthHandler(*oauthConfig, logger)
	oauthHandler.SetOnConsent(auth.NewSessionCallback(auth.SessionCallbackConfig{
		Store:  sessionStore,
		Logger: logger,
	}))

	retryer := retry.New(retry.Config{Logger: logger})

	slideBuilder := builder.New(builder.Config{
		Logger:  logger,
		Retryer: retryer,
	}, nil, resultStore)

	scopeChecker := scopes.NewChecker(scopes.CheckerConfig{Logger: logger}, nil)

	handlers := transport.NewHandlers(slideBuilder, resultStore, scopeChecker, logger)

	server := transport.NewServer(transport.ServerConfig{
		Port:   portFromEnv(),
		Logger: logger,
	}, handlers)

	server.SetAuthHandler(oauthHandler)
	server.SetSessionMiddleware(middleware.NewSessionMiddleware(middleware.SessionMiddlewareConfig{
		Store:             sessionStore,
		OAuthClientID:     oauthConfig.ClientID,
		OAuthClientSecret: oauthConfig.ClientSecret,
		TouchLastUsed:     true,
		Logger:            logger,
	}))
	server.SetRateLimitMiddleware(ratelimit.New(ratelimit.Config{Logger: logger}))

	logger.Info("prompt2slides starting",
		slog.Int("port", server.Port()),
		slog.Bool("firestore", projectID != ""),
	)

	return server.Start(ctx)
}

// loadOAuthConfig reads OAuth client credentials from Secret Manager when a
// project is configured, otherwise from the environment.
func loadOAuthConfig(ctx context.Context, projectID string) (*auth.OAuthConfig, error) {
	if projectID != "" && os.Getenv("OAUTH_CLIENT_ID") == "" {
		loader, err := auth.NewSecretLoader(ctx, projectID)
		if err != nil {
			return nil, err
		}
		defer loader.Close()

		return loader.LoadOAuthConfig(ctx,
			"oauth-client-id", "oauth-client-secret", "oauth-redirect-uri")
	}

	return auth.OAuthConfigFromEnv(
		os.Getenv("OAUTH_CLIENT_ID"),
		os.Getenv("OAUTH_CLIENT_SECRET"),
		os.Getenv("OAUTH_REDIRECT_URI"),
	), nil
}

// newSessionStore picks Firestore when a project is configured, memory
// otherwise. Memory sessions vanish on restart, acceptable for dev.
func newSessionStore(ctx context.Context, projectID string) (auth.SessionStore, error) {
	if projectID == "" {
		return auth.NewMemorySessionStore(), nil
	}
	return auth.NewFirestoreSessionStore(ctx, projectID, envOr("SESSIONS_COLLECTION", defaultSessionsCollection))
}

// newResultStore mirrors newSessionStore for build results.
func newResultStore(ctx context.Context, projectID string) (results.Store, func(), error) {
	if projectID == "" {
		return results.NewMemoryStore(), func() {}, nil
	}

	store, err := results.NewFirestoreStore(ctx, projectID, envOr("RESULTS_COLLECTION", defaultResultsCollection))
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func portFromEnv() int {
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			return port
		}
	}
	return 0 // transport default
}

func logLevelFromEnv() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
