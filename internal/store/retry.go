package store

import (
	"context"
	"time"
)

// RetryPolicy bounds how a single batch write is repeated.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Backoff is the wait between attempts.
	Backoff time.Duration

	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries nothing.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries a transient failure once after two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     2 * time.Second,
		Retryable:   IsTransient,
	}
}

// NoRetry runs every write exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return i, nil
		}
		if i == attempts || p.Retryable == nil || !p.Retryable(err) {
			return i, err
		}

		if p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return i, err
			case <-timer.C:
			}
		}
	}
	return attempts, err
}
