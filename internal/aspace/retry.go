package aspace

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry policy defaults. Transient fetch failures are retried a small
// bounded number of times with exponential backoff before the item is
// recorded as failed.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond

	backoffMultiplier = 2
)

// ErrAttemptsExhausted wraps the last retryable error once the attempt
// budget is spent.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// attemptOutcome classifies a single attempt so the retry loop stays an
// explicit enumeration rather than exception-style control flow.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetryable
	outcomeTerminal
)

// RetryPolicy bounds per-item fetch retries.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration

	// sleep is swapped in tests to avoid real waiting.
	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy returns the standard bounded policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
	}
}

// TerminalError marks an error as non-retryable (not-found, malformed
// record). The retry loop stops immediately and surfaces the cause.
type TerminalError struct {
	Cause error
}

func (e *TerminalError) Error() string { return e.Cause.Error() }

func (e *TerminalError) Unwrap() error { return e.Cause }

// Terminal wraps err so Do gives up without further attempts.
func Terminal(err error) error {
	return &TerminalError{Cause: err}
}

// Do runs fn up to MaxAttempts times, backing off between retryable
// failures. A TerminalError stops the loop at once. The context cancels
// both the attempt and the backoff wait.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	backoff := p.BackoffBase
	if backoff <= 0 {
		backoff = DefaultBackoffBase
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)

		switch classify(err) {
		case outcomeSuccess:
			return nil
		case outcomeTerminal:
			return err
		case outcomeRetryable:
			lastErr = err
		}

		if attempt == attempts {
			break
		}

		sleepErr := sleep(ctx, backoff)
		if sleepErr != nil {
			return sleepErr
		}

		backoff *= backoffMultiplier
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}

func classify(err error) attemptOutcome {
	if err == nil {
		return outcomeSuccess
	}

	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return outcomeTerminal
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return outcomeTerminal
	}

	return outcomeRetryable
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
