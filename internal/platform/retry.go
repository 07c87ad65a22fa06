package platform

import (
	"context"
	"net/http"
	"time"
)

// RetryPolicy bounds how often a mutation is repeated after a retryable status.
// Attempts are spaced by a fixed Delay.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Retryable  func(status int) bool
}

// DeletePolicy retries a delete that fails because a dependent still references
// the resource: 5 retries (6 attempts) 3 seconds apart.
func DeletePolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		Delay:      3 * time.Second,
		Retryable:  IsConflictStatus,
	}
}

// NoRetry makes every failure terminal.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// IsConflictStatus reports whether status is the dependency-conflict code.
func IsConflictStatus(status int) bool {
	return status == http.StatusConflict
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (1-based) ended with status.
func (p RetryPolicy) ShouldRetry(attempt, status int) bool {
	if p.Retryable == nil || attempt > p.MaxRetries {
		return false
	}
	return p.Retryable(status)
}

// wait sleeps for the policy delay or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
