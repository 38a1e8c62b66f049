package aspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, sleep: noSleep}

	transient := errors.New("timeout")

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++

		return transient
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, transient)
}

func TestRetry_TerminalStopsImmediately(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 5, BackoffBase: time.Millisecond, sleep: noSleep}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++

		return Terminal(ErrNotFound)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetry_ContextCancelledStops(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 5, BackoffBase: time.Millisecond, sleep: noSleep}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()

		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_BackoffDoubles(t *testing.T) {
	t.Parallel()

	var waits []time.Duration

	policy := RetryPolicy{
		MaxAttempts: 4,
		BackoffBase: 100 * time.Millisecond,
		sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)

			return nil
		},
	}

	_ = policy.Do(context.Background(), func(context.Context) error {
		return errors.New("transient")
	})

	require.Len(t, waits, 3)
	assert.Equal(t, 100*time.Millisecond, waits[0])
	assert.Equal(t, 200*time.Millisecond, waits[1])
	assert.Equal(t, 400*time.Millisecond, waits[2])
}
