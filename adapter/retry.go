package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BaseBackoff is the delay before the first retry. It doubles per attempt.
const BaseBackoff = 500 * time.Millisecond

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff returns the wait before retry attempt i (1-based).
func Backoff(i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * BaseBackoff
}

// Retry runs op once plus up to retries more times with exponential backoff.
// It stops early on success, context cancellation, or a Permanent error.
// name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, op func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			timer := time.NewTimer(Backoff(i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
