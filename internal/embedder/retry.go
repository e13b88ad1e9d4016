package embedder

import (
	"context"
	"time"
)

// backoffDelay computes the exponential backoff delay for a retry attempt:
// min(base * 2^attempt, max).
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// sleepBackoff waits for the attempt's backoff delay, returning early if the
// context is cancelled.
func sleepBackoff(ctx context.Context, attempt int, base, maxDelay time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoffDelay(attempt, base, maxDelay)):
		return nil
	}
}
