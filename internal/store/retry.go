package store

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// retryPolicy implements the persistence layer's exponential backoff
// (§4.5): base=50ms, factor=2, up to 5 attempts, jitter ±20%. Conditional
// check failures (idempotency conflicts) are never retried — callers must
// not pass those errors through retryable.
type retryPolicy struct {
	base    time.Duration
	factor  float64
	maxTry  int
	jitter  float64
}

var defaultRetry = retryPolicy{base: 50 * time.Millisecond, factor: 2, maxTry: 5, jitter: 0.2}

// errNotRetryable wraps an error that must be returned to the caller
// immediately, without consuming a retry attempt.
type errNotRetryable struct{ err error }

func (e *errNotRetryable) Error() string { return e.err.Error() }
func (e *errNotRetryable) Unwrap() error { return e.err }

// nonRetryable marks err so withRetry returns it immediately.
func nonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &errNotRetryable{err: err}
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := float64(p.base) * pow(p.factor, attempt)
	jitterRange := d * p.jitter
	d += (rand.Float64()*2 - 1) * jitterRange
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// withRetry runs fn up to maxTry times with exponential backoff, stopping
// early if fn returns a non-retryable error or ctx is cancelled.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < defaultRetry.maxTry; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var nr *errNotRetryable
		if errors.As(err, &nr) {
			return nr.Unwrap()
		}
		lastErr = err

		if attempt == defaultRetry.maxTry-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(defaultRetry.delay(attempt)):
		}
	}
	return lastErr
}
