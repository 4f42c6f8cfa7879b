package runner

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// ExponentialBackoff doubles base on every attempt up to limit and adds up
// to 50% jitter.
func ExponentialBackoff(base, limit time.Duration) func(attempt int, err error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		delay := base
		for i := 1; i < attempt && delay < limit; i++ {
			delay *= 2
		}
		delay = min(delay, limit)
		if delay <= 0 {
			return 0
		}
		return delay + rand.N(delay/2+1)
	}
}

// DefaultShouldRetry retries everything except cancellation.
func DefaultShouldRetry(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// retry calls fn until it succeeds, the policy gives up or ctx is done. It
// returns the number of attempts made and the last error.
func retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := max(policy.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, ctx.Err()
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil // success
		}

		// Don't delay after the last attempt.
		if attempt < maxAttempts {
			if policy.ShouldRetry != nil && !policy.ShouldRetry(lastErr) {
				return attempt, lastErr
			}
			var delay time.Duration
			if policy.DelayFunc != nil {
				delay = policy.DelayFunc(attempt, lastErr)
			} else {
				delay = policy.Delay
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return attempt, lastErr
				}
			}
		}
	}
	return maxAttempts, lastErr
}
