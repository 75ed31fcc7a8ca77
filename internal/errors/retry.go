package errors

import (
	"context"
	"math"
	"time"
)

const (
	MaxRetries        = 3
	InitialBackoff    = 100 * time.Millisecond
	MaxBackoff        = 5 * time.Second
	BackoffMultiplier = 2.0
)

// WithRetry runs fn until it succeeds, returns a non-retryable error, or
// MaxRetries additional attempts are used up.
func WithRetry(ctx context.Context, fn func() error) error {
	return withRetry(ctx, MaxRetries, InitialBackoff, fn)
}

func withRetry(ctx context.Context, retries int, initial time.Duration, fn func() error) error {
	if fn == nil {
		return nil
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil || !IsRetryable(err) || attempt == retries {
			return err
		}

		timer := time.NewTimer(backoff(initial, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}

func backoff(initial time.Duration, attempt int) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(BackoffMultiplier, float64(attempt)))
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}
