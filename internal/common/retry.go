package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Veraticus/expense-flow/internal/service"
)

var (
	// ErrRateLimit indicates that the API rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// Transient marks err as retryable.
func Transient(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// BackoffDelay returns how long to wait after a failed attempt (1-based).
// Rate limits back off exponentially up to MaxDelay; anything else waits
// attempt × InitialDelay.
func BackoffDelay(attempt int, err error, opts service.RetryOptions) time.Duration {
	if errors.Is(err, ErrRateLimit) {
		delay := time.Duration(float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt-1)))
		if delay > opts.MaxDelay || delay <= 0 {
			delay = opts.MaxDelay
		}
		return delay
	}
	return time.Duration(attempt) * opts.InitialDelay
}

// WithRetry executes an operation with configurable retry behavior.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	opts = opts.WithDefaults()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return err
		}

		if attempt == opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, err)
		}

		delay := BackoffDelay(attempt, err, opts)

		slog.Warn("Operation failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return ErrMaxRetries
}
