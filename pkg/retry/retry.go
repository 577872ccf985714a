// Package retry provides a reusable retry/backoff/rate-limit policy shared
// by fetch, send and token refresh operations.
package retry

import (
	"context"
	"time"
)

// Policy controls how an operation is retried. The zero value is not
// usable; construct with NewPolicy and override fields as needed.
type Policy struct {
	// MaxAttempts caps attempts for generic retryable failures.
	MaxAttempts int
	// Backoff returns the wait before retrying attempt n (1-based).
	Backoff func(attempt int) time.Duration
	// IsRetryable decides whether an error is worth another attempt.
	IsRetryable func(err error) bool
	// RetryAfter extracts a provider-specified rate-limit wait. Rate-limit
	// waits do not count against MaxAttempts; they have their own cap.
	RetryAfter func(err error) (time.Duration, bool)
	// MaxRateLimitWaits caps how many rate-limit waits one call absorbs.
	MaxRateLimitWaits int
	// DefaultRetryAfter is used when the provider gives no hint.
	DefaultRetryAfter time.Duration
	// Sleep waits for d or until ctx is done. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy returns a policy with the shared defaults: 3 attempts,
// exponential backoff base*2^(attempt-1), and a 30 s default rate-limit wait.
func NewPolicy(baseDelay time.Duration, isRetryable func(error) bool, retryAfter func(error) (time.Duration, bool)) Policy {
	return Policy{
		MaxAttempts:       3,
		Backoff:           ExponentialBackoff(baseDelay),
		IsRetryable:       isRetryable,
		RetryAfter:        retryAfter,
		MaxRateLimitWaits: 3,
		DefaultRetryAfter: 30 * time.Second,
		Sleep:             sleepCtx,
	}
}

// ExponentialBackoff returns base*2^(attempt-1).
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// TieredBackoff walks fixed tiers, clamping to the last one. Used by the
// send pipeline (1 min, 5 min, 15 min) where aggressive retries are costly.
func TieredBackoff(tiers ...time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if len(tiers) == 0 {
			return 0
		}
		if attempt > len(tiers) {
			return tiers[len(tiers)-1]
		}
		return tiers[attempt-1]
	}
}

// Do runs op, retrying per the policy. Non-retryable errors propagate
// immediately. Rate-limited calls wait out the provider interval without
// consuming the attempt budget.
func (p Policy) Do(ctx context.Context, op func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	attempt := 1
	rateLimitWaits := 0

	for {
		err := op()
		if err == nil {
			return nil
		}

		if p.RetryAfter != nil {
			if wait, ok := p.RetryAfter(err); ok {
				if rateLimitWaits >= p.MaxRateLimitWaits {
					return err
				}
				rateLimitWaits++
				if wait <= 0 {
					wait = p.DefaultRetryAfter
				}
				if serr := sleep(ctx, wait); serr != nil {
					return serr
				}
				continue
			}
		}

		if p.IsRetryable == nil || !p.IsRetryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}

		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return serr
		}
		attempt++
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
