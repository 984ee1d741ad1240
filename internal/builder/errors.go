package builder

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// Sentinel errors for the build pipeline. Validation errors surface before
// any remote call; the rest classify remote failures so the transport layer
// can map them to distinct responses.
var (
	ErrMissingAccessToken = errors.New("access token is required")
	ErrInvalidTitle       = errors.New("presentation title is required")
	ErrEmptyMarkdown      = errors.New("markdown content is required")

	ErrAccessDenied   = errors.New("access denied by slides API")
	ErrRateLimited    = errors.New("slides API rate limit exceeded")
	ErrSlidesAPIError = errors.New("slides API error")
	ErrBuildFailed    = errors.New("failed to build presentation")
)

// IsValidationError reports whether err is a precondition failure that never
// reached the remote API.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTitle) ||
		errors.Is(err, ErrEmptyMarkdown) ||
		errors.Is(err, ErrMissingAccessToken)
}

// statusCodeOf extracts the HTTP status code from a Google API error, or 0.
func statusCodeOf(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// isForbiddenError checks if an error indicates access was denied.
func isForbiddenError(err error) bool {
	if err == nil {
		return false
	}
	if code := statusCodeOf(err); code == 401 || code == 403 {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "permission denied")
}

// isRateLimitError checks if an error indicates API throttling. Rate limits
// are surfaced distinctly so the caller can retry after a delay; the builder
// never retries a mutation itself.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if statusCodeOf(err) == 429 {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rateLimitExceeded") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota exceeded")
}

// classifyRemoteError maps a remote failure onto the builder's taxonomy,
// wrapping fallback when the error fits no distinct class.
func classifyRemoteError(err error, fallback error) error {
	switch {
	case isRateLimitError(err):
		return wrapRemote(ErrRateLimited, err)
	case isForbiddenError(err):
		return wrapRemote(ErrAccessDenied, err)
	default:
		return wrapRemote(fallback, err)
	}
}

// wrapRemote attaches the remote API's detail string to a sentinel.
func wrapRemote(sentinel, cause error) error {
	return fmt.Errorf("%w: %v", sentinel, cause)
}
