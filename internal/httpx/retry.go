package httpx

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/statusdeck/errs"
)

const (
	// DefaultMaxAttempts bounds transport-level retries within one refresh tick.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential retry delay.
	DefaultBaseDelay = 250 * time.Millisecond
)

// RetriableFunc decides whether an error is worth another attempt.
type RetriableFunc func(error) bool

// DefaultRetriable retries rate limiting, provider 5xx, and transport failures.
func DefaultRetriable(err error) bool {
	return errs.Retriable(err)
}

// WithRetry runs fn up to maxAttempts times, sleeping an exponentially growing
// jittered delay between attempts. Non-retriable errors surface immediately.
// A provider-supplied retry-after overrides the computed delay when longer.
func WithRetry(ctx context.Context, maxAttempts int, baseDelay time.Duration, retriable RetriableFunc, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if retriable == nil {
		retriable = DefaultRetriable
	}
	if ctx == nil {
		ctx = context.Background()
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = baseDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retriable(lastErr) || attempt == maxAttempts {
			return lastErr
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = baseDelay
		}
		if hinted := retryAfterHint(lastErr); hinted > sleep {
			sleep = hinted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

func retryAfterHint(err error) time.Duration {
	var e *errs.E
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
