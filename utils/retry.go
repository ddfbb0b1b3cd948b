package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PermanentError marks a failure that further attempts cannot fix. Retry
// stops immediately and returns the wrapped error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Retry gives up without re-attempting.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Retry runs fn up to attempts times, sleeping between failures with an
// exponential backoff that starts at baseDelay and doubles per attempt.
// It stops early when ctx is cancelled or fn returns a PermanentError, and
// returns the last error seen.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
			}
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(BackoffDelay(baseDelay, attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt+1, lastErr)
		}
	}
	return lastErr
}

// BackoffDelay returns the delay before the retry following the given
// zero-based attempt index: baseDelay * 2^attempt.
func BackoffDelay(baseDelay time.Duration, attempt int) time.Duration {
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return baseDelay * time.Duration(1<<uint(attempt))
}
