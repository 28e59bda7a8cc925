package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/models"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Delay: time.Millisecond}
}

func TestWithRetry(t *testing.T) {
	transportErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}

	tests := []struct {
		name         string
		policy       RetryPolicy
		errs         []error
		wantAttempts int
		wantErr      bool
	}{
		{
			name:         "success first try",
			policy:       fastPolicy(),
			errs:         []error{nil},
			wantAttempts: 1,
		},
		{
			name:         "transport error then success",
			policy:       fastPolicy(),
			errs:         []error{transportErr, nil},
			wantAttempts: 2,
		},
		{
			name:         "transport error twice",
			policy:       fastPolicy(),
			errs:         []error{transportErr, transportErr, nil},
			wantAttempts: 2,
			wantErr:      true,
		},
		{
			name:         "conflict not retried",
			policy:       fastPolicy(),
			errs:         []error{&models.APIError{StatusCode: 409}, nil},
			wantAttempts: 1,
			wantErr:      true,
		},
		{
			name:         "server error not retried by default",
			policy:       fastPolicy(),
			errs:         []error{&models.APIError{StatusCode: 503}, nil},
			wantAttempts: 1,
			wantErr:      true,
		},
		{
			name:         "server error retried when enabled",
			policy:       RetryPolicy{MaxRetries: 1, Delay: time.Millisecond, RetryServerErrors: true},
			errs:         []error{&models.APIError{StatusCode: 503}, nil},
			wantAttempts: 2,
		},
		{
			name:         "no retries configured",
			policy:       RetryPolicy{},
			errs:         []error{transportErr, nil},
			wantAttempts: 1,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := WithRetry(context.Background(), tt.policy, func(attempt int) error {
				assert.Equal(t, attempts, attempt)
				e := tt.errs[attempts]
				attempts++
				return e
			})

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithRetryKeepsCause(t *testing.T) {
	transportErr := &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}

	err := WithRetry(context.Background(), fastPolicy(), func(int) error {
		return transportErr
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, models.KindRemoteUnreachable, models.Classify(err))
}

func TestWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := WithRetry(ctx, RetryPolicy{MaxRetries: 1, Delay: time.Hour}, func(int) error {
		attempts++
		cancel()
		return context.DeadlineExceeded
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestRetryable(t *testing.T) {
	policy := DefaultPolicy()

	assert.False(t, policy.Retryable(nil))
	assert.True(t, policy.Retryable(context.DeadlineExceeded))
	assert.True(t, policy.Retryable(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, policy.Retryable(&models.APIError{StatusCode: 401}))
	assert.False(t, policy.Retryable(&models.APIError{StatusCode: 500}))
	assert.False(t, policy.Retryable(errors.New("parse response: bad json")))

	assert.Equal(t, 1, policy.MaxRetries)
	assert.Equal(t, 750*time.Millisecond, policy.Delay)
}
