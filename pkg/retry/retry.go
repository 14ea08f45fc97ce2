// Package retry runs an operation a bounded number of times with a fixed
// delay between failed attempts.
//
//	err := retry.Do(ctx, retry.Policy{MaxAttempts: 10, Delay: 5 * time.Second},
//		func(attempt int) error {
//			return connect(ctx)
//		})
//
// The delay is only slept between attempts, never after the last one.
// Wrapping an error with Stop ends the loop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// AttemptFunc is called with the 1-based attempt number.
type AttemptFunc func(attempt int) error

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, returns a StopError, the policy is exhausted
// or ctx is cancelled while waiting between attempts.
func Do(ctx context.Context, p Policy, fn AttemptFunc) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var stopErr StopError
		if errors.As(err, &stopErr) {
			return stopErr.Err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return fmt.Errorf("retry cancelled by context after %d attempts: %w", attempt, err)
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StopError wraps an error to indicate that retries should stop immediately
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error to indicate that retries should stop immediately
func Stop(err error) error {
	return StopError{Err: err}
}
