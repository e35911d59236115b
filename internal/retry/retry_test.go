package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithExponentialBackoffSuccess(t *testing.T) {
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithExponentialBackoffSuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, WithInitialDelay(10*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithExponentialBackoffMaxRetries(t *testing.T) {
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return errors.New("persistent error")
	}, WithMaxRetries(3), WithInitialDelay(10*time.Millisecond))

	require.Error(t, err)
	// MaxRetries counts retries after the first attempt.
	assert.Equal(t, 4, attempts)
}

func TestWithExponentialBackoffContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := WithExponentialBackoff(ctx, func() error {
		attempts++
		return errors.New("error")
	}, WithInitialDelay(10*time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestWithExponentialBackoffContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := WithExponentialBackoff(ctx, func() error {
		attempts++
		return errors.New("error")
	}, WithInitialDelay(100*time.Millisecond), WithMaxRetries(10))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.LessOrEqual(t, attempts, 2)
}

func TestWithExponentialBackoffFatalError(t *testing.T) {
	boom := errors.New("bad credentials")

	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return Fatal(boom)
	}, WithInitialDelay(10*time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Fatal(errors.New("x"))))
	assert.False(t, IsFatal(errors.New("x")))
	assert.NoError(t, Fatal(nil))
}
