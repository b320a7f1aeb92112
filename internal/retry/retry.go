// Package retry provides rate-limit aware retry for remote ledger calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRateLimited marks a transient rate-limit rejection from a remote service.
// Callers wrap provider errors with this sentinel so Do can classify them.
var ErrRateLimited = errors.New("rate limited")

// DefaultMaxAttempts bounds retries for account-scanning reads, the most
// rate-limit-prone calls against the ledger service.
const DefaultMaxAttempts = 5

// DefaultBaseDelay is the first backoff step; attempt n waits n times this.
const DefaultBaseDelay = 500 * time.Millisecond

// IsRateLimited reports whether err carries a rate-limit signal, either the
// ErrRateLimited sentinel or a recognisable provider message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}

// Do invokes op up to maxAttempts times, waiting baseDelay multiplied by the
// attempt number between rate-limited failures. Any error that is not a
// rate-limit signal propagates immediately. After maxAttempts rate-limited
// failures the final error propagates.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		if werr := wait(ctx, baseDelay*time.Duration(attempt)); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, maxAttempts, baseDelay, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
