// Package retry provides exponential backoff with jitter for transient
// upstream failures. It is applied only to idempotent reads; mutations such
// as batchUpdate are never retried because a timed-out mutation may have
// already applied.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 3).
	MaxRetries int
	// InitialDelay is the delay before the first retry (default: 500ms).
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries (default: 8s).
	MaxDelay time.Duration
	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64
	// JitterFactor randomizes delays by +/- this fraction (default: 0.2).
	JitterFactor float64
	// RetryableStatusCodes are HTTP status codes that trigger a retry.
	RetryableStatusCodes []int
	// Logger for retry events.
	Logger *slog.Logger
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		},
		Logger: slog.Default(),
	}
}

// Retryer executes operations with exponential backoff.
type Retryer struct {
	config          Config
	retryableStatus map[int]bool
}

// New creates a Retryer with the given configuration.
func New(config Config) *Retryer {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 8 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.JitterFactor <= 0 || config.JitterFactor > 1 {
		config.JitterFactor = 0.2
	}
	if len(config.RetryableStatusCodes) == 0 {
		config.RetryableStatusCodes = []int{429, 500, 502, 503, 504}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	statusMap := make(map[int]bool, len(config.RetryableStatusCodes))
	for _, code := range config.RetryableStatusCodes {
		statusMap[code] = true
	}

	return &Retryer{
		config:          config,
		retryableStatus: statusMap,
	}
}

// RetryableError carries the status code and attempt count of the failure
// that ended the retry loop.
type RetryableError struct {
	StatusCode int
	Err        error
	Attempt    int
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an HTTP status code is retryable. A zero status code
// (no HTTP response, e.g. a connection error) is treated as retryable for
// reads.
func (r *Retryer) IsRetryable(statusCode int) bool {
	return statusCode == 0 || r.retryableStatus[statusCode]
}

// MaxRetries returns the configured maximum number of retries.
func (r *Retryer) MaxRetries() int {
	return r.config.MaxRetries
}

// CalculateDelay returns the backoff delay for a 1-based retry attempt.
func (r *Retryer) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	// initialDelay * multiplier^(attempt-1), capped at MaxDelay.
	delay := float64(r.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= r.config.Multiplier
	}
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	// Jitter spreads the range to [delay*(1-f), delay*(1+f)].
	jitterRange := delay * r.config.JitterFactor
	delay += rand.Float64()*2*jitterRange - jitterRange

	if delay < float64(time.Millisecond) {
		delay = float64(time.Millisecond)
	}

	return time.Duration(delay)
}

// DoWithResult executes op until it succeeds, returns a non-retryable
// failure, or exhausts the retry budget. op reports the HTTP status code of
// its failure so retryability can be decided without unwrapping errors.
func DoWithResult[T any](ctx context.Context, r *Retryer, op func(ctx context.Context) (T, int, error)) (T, error) {
	var zero T
	var lastErr error
	var lastStatusCode int

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, statusCode, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				r.config.Logger.Info("operation succeeded after retry",
					slog.Int("attempts", attempt+1),
				)
			}
			return result, nil
		}

		lastErr = err
		lastStatusCode = statusCode

		if !r.IsRetryable(statusCode) {
			r.config.Logger.Debug("non-retryable error",
				slog.Int("status_code", statusCode),
				slog.String("error", err.Error()),
			)
			return zero, &RetryableError{
				StatusCode: statusCode,
				Err:        err,
				Attempt:    attempt + 1,
			}
		}

		if attempt >= r.config.MaxRetries {
			break
		}

		delay := r.CalculateDelay(attempt + 1)
		r.config.Logger.Warn("retrying operation",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", r.config.MaxRetries),
			slog.Int("status_code", statusCode),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	r.config.Logger.Error("max retries exceeded",
		slog.Int("max_retries", r.config.MaxRetries),
		slog.Int("last_status_code", lastStatusCode),
		slog.String("last_error", lastErr.Error()),
	)

	return zero, &RetryableError{
		StatusCode: lastStatusCode,
		Err:        errors.Join(ErrMaxRetriesExceeded, lastErr),
		Attempt:    r.config.MaxRetries + 1,
	}
}
