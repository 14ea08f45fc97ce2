package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Hour}, func(int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsWithFixedDelay(t *testing.T) {
	failure := errors.New("connection refused")
	delay := 20 * time.Millisecond

	var seen []int
	start := time.Now()
	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: delay}, func(attempt int) error {
		seen = append(seen, attempt)
		return failure
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, failure)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []int{1, 2, 3}, seen)

	// Two sleeps between three attempts, none after the last.
	assert.GreaterOrEqual(t, elapsed, 2*delay)
	assert.Less(t, elapsed, 3*delay+time.Second)
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond}, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopError(t *testing.T) {
	permanent := errors.New("invalid connection string")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Hour}, func(int) error {
		calls++
		return Stop(permanent)
	})
	assert.Equal(t, permanent, err)
	var stopErr StopError
	assert.False(t, errors.As(err, &stopErr), "Do unwraps the stop marker")
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, Delay: time.Hour}, func(int) error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(int) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
