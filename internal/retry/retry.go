// Package retry implements bounded exponential backoff for the flaky HTTP
// APIs the sync jobs talk to (Okta, WooCommerce, Fivetran).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxRetries   = 5
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 5 * time.Minute
)

// Operation is a retryable unit of work.
type Operation func() error

// Option configures a backoff run.
type Option func(*settings)

type settings struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithInitialDelay sets the delay before the first retry; it doubles on each
// subsequent retry up to the maximum delay.
func WithInitialDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.initialDelay = d
		}
	}
}

// WithMaxDelay caps the per-retry delay.
func WithMaxDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.maxDelay = d
		}
	}
}

// fatalError marks an error that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so WithExponentialBackoff returns it immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// WithExponentialBackoff runs op, retrying failures with doubling delays until
// it succeeds, returns a fatal error, exhausts its retries, or the context is
// done. The returned error wraps the last operation error.
func WithExponentialBackoff(ctx context.Context, op Operation, opts ...Option) error {
	s := settings{
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(&s)
	}

	delay := s.initialDelay
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		var fe *fatalError
		if errors.As(lastErr, &fe) {
			return fe.err
		}

		if attempt == s.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", s.maxRetries+1, lastErr)
}
