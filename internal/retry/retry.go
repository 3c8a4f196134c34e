// Package retry wraps calls to external services with a fixed-delay retry loop.
package retry

import (
	"context"
	"time"

	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

// WithRetry runs op up to maxAttempts times, waiting delay between attempts.
// The last error is returned as-is so callers can match on it.
func WithRetry[T any](ctx context.Context, op func(context.Context) (T, error), maxAttempts int, delay time.Duration, label string) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			if attempt > 1 {
				util.LogInfo("%s succeeded on attempt %d/%d", label, attempt, maxAttempts)
			}
			return result, nil
		}
		if attempt == maxAttempts {
			break
		}

		util.LogWarn("%s failed (attempt %d/%d): %v, retrying in %v", label, attempt, maxAttempts, err, delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			util.LogWarn("%s abandoned after attempt %d/%d: %v", label, attempt, maxAttempts, ctx.Err())
			return result, err
		}
	}

	util.LogError("%s failed after %d attempts: %v", label, maxAttempts, err)
	return result, err
}

// Do is WithRetry for operations without a result.
func Do(ctx context.Context, op func(context.Context) error, maxAttempts int, delay time.Duration, label string) error {
	_, err := WithRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, maxAttempts, delay, label)
	return err
}
