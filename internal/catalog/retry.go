package catalog

import (
	"context"
	"errors"
	"time"

	"asset-agent/internal/logging"
)

// RetryPolicy bounds retries of transient RPC failures with exponential
// backoff. Permanent failures (anything not marked transient) return
// immediately.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy suits flaky office networks without busy-looping.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// markTransient wraps err so the retry policy will retry it.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Do runs op, retrying transient failures until the attempt budget or the
// context runs out. The last error is returned unwrapped of its marker.
func (p RetryPolicy) Do(ctx context.Context, label string, op func() error) error {
	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				logging.Debug("%s succeeded on retry %d", label, attempt-1)
			}
			return nil
		}

		lastErr = err
		if !isTransient(err) {
			break
		}
		if attempt == p.MaxAttempts {
			break
		}

		logging.Debug("%s failed (attempt %d/%d), retrying in %v: %v",
			label, attempt, p.MaxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	var t *transientError
	if errors.As(lastErr, &t) {
		return t.err
	}
	return lastErr
}
