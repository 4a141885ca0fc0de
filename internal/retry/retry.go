// Package retry provides the single bounded-retry and bounded-poll policy
// used by every provisioning step, so attempt counts and delays live in one
// place instead of scattered sleep loops.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a fixed-delay retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool

	// Sleep is overridable for tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// TimeoutError reports that a bounded poll exhausted its attempts. It
// carries the elapsed bound so the operator sees how long was waited.
type TimeoutError struct {
	What    string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s after %s", e.What, e.Elapsed)
}

// Do runs fn until it succeeds, the attempts are exhausted, or the error is
// not retryable. The last error is returned wrapped with the attempt count.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = contextSleep
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}

// PollUntil calls check every interval until it reports done, returning a
// TimeoutError naming what once the bound is exceeded. Check errors are
// fatal immediately; eventual consistency is signalled by done=false, not by
// an error.
func PollUntil(ctx context.Context, what string, bound, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	return pollUntil(ctx, what, bound, interval, check, contextSleep)
}

func pollUntil(ctx context.Context, what string, bound, interval time.Duration, check func(ctx context.Context) (bool, error), sleep func(context.Context, time.Duration) error) error {
	var elapsed time.Duration
	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if elapsed >= bound {
			return &TimeoutError{What: what, Elapsed: elapsed}
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		elapsed += interval
	}
}

// contextSleep waits for d unless the context is cancelled first.
func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
