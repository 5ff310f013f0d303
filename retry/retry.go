// Package retry runs an operation under a bounded attempt policy.
// The same executor drives quote polling (constant interval) and
// message delivery (exponential backoff).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrExhausted = errors.New("retry attempts exhausted")
)

// BackoffFunc returns the wait before attempt+1, given the attempt (1-based)
// that just failed.
type BackoffFunc func(attempt int) time.Duration

type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// Constant waits d between every attempt.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Exponential waits base, 2*base, 4*base, ...
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base << (attempt - 1)
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError carries the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }
func (e *ExhaustedError) Unwrap() error        { return e.Last }

// Do calls fn until it returns nil, returns a Permanent error, the context
// is done, or MaxAttempts calls have been made. It returns the number of
// calls made alongside the result.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		last = fn(ctx, attempt)
		if last == nil {
			return attempt, nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return attempt, perm.err
		}
		if attempt == max {
			break
		}

		if p.Backoff == nil {
			continue
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return max, &ExhaustedError{Attempts: max, Last: last}
}
