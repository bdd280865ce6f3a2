// Package retry runs an operation under a bounded exponential backoff with
// an optional rotation hook that fires once consecutive failures pile up.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts uint
	// InitialDelay is the first backoff; each further delay doubles
	InitialDelay time.Duration
	// MaxDelay caps a single backoff. Zero means no cap.
	MaxDelay time.Duration
	// RotateAfter is the number of failures after which the rotate hook
	// runs before every further attempt. Zero disables rotation.
	RotateAfter int
}

// DefaultPolicy mirrors the page-level retry settings of the worker
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 2 * time.Second,
		MaxDelay:     2 * time.Minute,
		RotateAfter:  2,
	}
}

// Operation is one attempt; attempt starts at 1
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// ExhaustedError reports that every attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	return backoff.Permanent(err)
}

type options struct {
	onRetry  func(attempt int, err error, delay time.Duration)
	onRotate func(failures int)
}

// Option customizes a Do call
type Option func(*options)

// OnRetry is called after a failed attempt, before sleeping for delay
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// OnRotate is called before an attempt once failures >= Policy.RotateAfter
func OnRotate(fn func(failures int)) Option {
	return func(o *options) { o.onRotate = fn }
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.Reset()
	return b
}

// Do runs op until it succeeds, returns a Permanent error, the context ends,
// or MaxAttempts is reached. Exhaustion is reported as *ExhaustedError;
// permanent errors are returned unwrapped.
func Do[T any](ctx context.Context, p Policy, op Operation[T], opts ...Option) (T, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	attempt := 0
	failures := 0
	permanent := false

	wrapped := func() (T, error) {
		attempt++
		if o.onRotate != nil && p.RotateAfter > 0 && failures >= p.RotateAfter {
			o.onRotate(failures)
		}
		v, err := op(ctx, attempt)
		if err != nil {
			failures++
			var perm *backoff.PermanentError
			permanent = errors.As(err, &perm)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if o.onRetry != nil {
				o.onRetry(attempt, err, delay)
			}
		}),
	)
	if err == nil {
		return v, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if permanent || ctx.Err() != nil {
		return v, err
	}
	return v, &ExhaustedError{Attempts: attempt, Err: err}
}
