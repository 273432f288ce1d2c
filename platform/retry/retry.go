// Package retry runs an operation a bounded number of times with exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop. The first attempt runs immediately, attempt n>1
// waits BackoffBase*2^(n-2): 1s, 2s, 4s for the default base.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultPolicy is used when a caller passes a zero Policy.
var DefaultPolicy = Policy{MaxAttempts: 3, BackoffBase: time.Second}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = DefaultPolicy.BackoffBase
	}
	return p
}

// Backoff returns the wait before attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt <= 1 {
		return 0
	}
	return p.BackoffBase * time.Duration(1<<uint(attempt-2))
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. It returns the last error. onRetry, if set, is called
// before every wait.
func Do(
	ctx context.Context,
	p Policy,
	retryable func(error) bool,
	onRetry func(attempt int, backoff time.Duration, err error),
	fn func(ctx context.Context) error,
) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := p.Backoff(attempt)
			if onRetry != nil {
				onRetry(attempt, backoff, lastErr)
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return lastErr
}
