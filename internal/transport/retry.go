package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/models"
)

// RetryPolicy decides whether and when a failed call is repeated.
type RetryPolicy struct {
	MaxRetries        int
	Delay             time.Duration
	RetryServerErrors bool
}

// DefaultPolicy allows one retry after a fixed 750ms pause.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Delay: 750 * time.Millisecond}
}

// PolicyFromConfig builds the policy for remote calls.
func PolicyFromConfig(cfg *config.RemoteConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		Delay:             cfg.RetryDelay,
		RetryServerErrors: cfg.RetryServerErrors,
	}
}

// Retryable reports whether err warrants another attempt. Transport
// failures are retried; 4xx never is; 5xx only when enabled.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return p.RetryServerErrors && apiErr.StatusCode >= 500
	}

	return models.IsTransport(err)
}

// WithRetry runs fn and repeats it per policy. fn receives the attempt
// number, starting at 0.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(policy.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !policy.Retryable(err) {
			return err
		}
	}

	if policy.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("after %d attempts: %w", policy.MaxRetries+1, lastErr)
}
