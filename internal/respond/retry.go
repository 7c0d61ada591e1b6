package respond

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultRetryAttempts = 5
	defaultRetryInterval = 2 * time.Second
)

// withRetries invokes action up to attempts times, sleeping interval
// between failures. The sleep honors context cancellation. After
// exhaustion the last error is returned wrapped; user-facing handling
// is the caller's job.
func withRetries[T any](ctx context.Context, attempts int, interval time.Duration, action func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := action(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		slog.Error("request failed", "attempt", attempt, "attempts", attempts, "error", err)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}
	return zero, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}
