package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/smorand/prompt2slides/internal/builder"
	"github.com/smorand/prompt2slides/internal/middleware"
	"github.com/smorand/prompt2slides/internal/results"
	"github.com/smorand/prompt2slides/internal/scopes"
)

// SlideBuilder is the build pipeline as the transport layer sees it.
type SlideBuilder interface {
	Build(ctx context.Context, tokenSource oauth2.TokenSource, input builder.BuildInput) (*builder.BuildOutput, error)
}

// ScopeChecker verifies token scopes before a build. Optional.
type ScopeChecker interface {
	CheckBuildScopes(ctx context.Context, tokenSource oauth2.TokenSource) error
}

// Handlers carries the REST endpoint implementations.
type Handlers struct {
	builder      SlideBuilder
	store        results.Store
	scopeChecker ScopeChecker
	logger       *slog.Logger
}

// NewHandlers creates the endpoint handlers. scopeChecker may be nil, in
// which case builds skip the pre-flight scope verification.
func NewHandlers(b SlideBuilder, store results.Store, scopeChecker ScopeChecker, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		builder:      b,
		store:        store,
		scopeChecker: scopeChecker,
		logger:       logger,
	}
}

// HandleBuild handles POST /v1/slides: markdown in, presentation out.
func (h *Handlers) HandleBuild(w http.ResponseWriter, r *http.Request) {
	var input builder.BuildInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tokenSource := middleware.GetTokenSource(r.Context())
	if tokenSource == nil {
		writeJSONError(w, http.StatusUnauthorized, "no credentials in request context")
		return
	}

	if h.scopeChecker != nil {
		if err := h.scopeChecker.CheckBuildScopes(r.Context(), tokenSource); err != nil {
			if errors.Is(err, scopes.ErrMissingScope) {
				writeJSONError(w, http.StatusForbidden, err.Error())
				return
			}
			// A broken scope check should not block builds; the Slides API
			// is the authority anyway.
			h.logger.Warn("scope check failed, continuing", slog.Any("error", err))
		}
	}

	output, err := h.builder.Build(r.Context(), tokenSource, input)
	if err != nil {
		h.writeBuildError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(output)
}

// HandleGetResult handles GET /v1/results/{id}.
func (h *Handlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing result id")
		return
	}

	result, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, results.ErrResultNotFound) {
			writeJSONError(w, http.StatusNotFound, "result not found")
			return
		}
		h.logger.Error("failed to get result", slog.String("id", id), slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// HandleDeleteResult handles DELETE /v1/results/{id}. Deleting the record
// does not touch the presentation itself.
func (h *Handlers) HandleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing result id")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete result", slog.String("id", id), slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to delete result")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeBuildError maps builder errors onto HTTP statuses. Validation
// failures are the caller's fault; everything else reflects the upstream
// API.
func (h *Handlers) writeBuildError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, builder.ErrMissingAccessToken):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case builder.IsValidationError(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, builder.ErrAccessDenied):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, builder.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; 499 is nginx's convention for this.
		writeJSONError(w, 499, "request cancelled")
	default:
		h.logger.Error("build failed", slog.Any("error", err))
		writeJSONError(w, http.StatusBadGateway, err.Error())
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
