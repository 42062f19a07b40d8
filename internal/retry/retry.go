// Package retry holds the shared backoff policy for transient failures.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"math/rand"
	"net"
	"time"
)

const MaxRetries = 3

// RetryableError marks an error as transient.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

// Do runs fn up to MaxRetries times while it fails with a retryable error.
// wait is the sleep between attempts; nil uses Backoff.
func Do(ctx context.Context, wait func(int) time.Duration, fn func() error) error {
	if wait == nil {
		wait = Backoff
	}
	var err error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == MaxRetries-1 {
			break
		}
		select {
		case <-time.After(wait(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
