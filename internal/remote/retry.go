package remote

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Backoff tuning, per §4.6: base 100ms, cap 30s, at most 8 attempts total
// per request.
const (
	BackoffBase = 100 * time.Millisecond
	BackoffCap  = 30 * time.Second
	MaxAttempts = 8
)

// WithRetry calls fn, retrying with exponential backoff while fn's error is
// a TransientError, up to MaxAttempts total attempts. Non-transient errors
// return immediately. If the retry budget is exhausted, the last error is
// wrapped with attempt-count context.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := BackoffBase

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "remote: retry aborted")
		case <-time.After(delay):
		}

		delay *= 2
		if delay > BackoffCap {
			delay = BackoffCap
		}
	}

	return errors.Wrapf(lastErr, "remote: exhausted %d attempts", MaxAttempts)
}
