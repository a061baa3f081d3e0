// Package retry re-runs operations that failed with a transient error.
//
// The chunk engine retries a page fetch or a whole chunk transaction. Both are
// safe to repeat: a failed fetch leaves the reader where it was, and a failed
// chunk transaction is rolled back before the next attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Policy decides whether a failed attempt is repeated.
type Policy interface {
	// ShouldRetry reports whether err is transient.
	ShouldRetry(err error) bool
	// Backoff returns the wait before attempt+1, attempt starting at 1.
	Backoff(attempt int) time.Duration
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts() int
}

type never struct{}

func (never) ShouldRetry(error) bool    { return false }
func (never) Backoff(int) time.Duration { return 0 }
func (never) MaxAttempts() int          { return 1 }

// Never returns a policy that runs every operation once.
func Never() Policy {
	return never{}
}

// DefaultPolicy retries errors marked retryable by their BatchError, and errors
// matching one of the configured kinds, with a fixed interval between attempts.
type DefaultPolicy struct {
	maxAttempts int
	interval    time.Duration
	kinds       []string
}

// NewPolicy creates a DefaultPolicy. kinds are names registered with
// exception.RegisterErrorType. maxAttempts below 1 is treated as 1.
func NewPolicy(maxAttempts int, interval time.Duration, kinds ...string) *DefaultPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DefaultPolicy{maxAttempts: maxAttempts, interval: interval, kinds: append([]string(nil), kinds...)}
}

// ShouldRetry implements Policy.
func (p *DefaultPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if exception.IsRetryable(err) {
		return true
	}
	for _, kind := range p.kinds {
		if exception.IsErrorOfType(err, kind) {
			return true
		}
	}
	return false
}

// Backoff implements Policy. The interval is fixed.
func (p *DefaultPolicy) Backoff(int) time.Duration {
	return p.interval
}

// MaxAttempts implements Policy.
func (p *DefaultPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// policyBackOff feeds a Policy's intervals to backoff.Retry.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Backoff(b.attempt)
}

func (b *policyBackOff) Reset() { b.attempt = 0 }

// Do runs op until it succeeds, fails with an error p does not retry, or has
// run p.MaxAttempts() times. The last error is returned unchanged. name
// identifies the operation in logs.
func Do[T any](ctx context.Context, p Policy, name string, op func() (T, error)) (T, error) {
	if p == nil || p.MaxAttempts() <= 1 {
		return op()
	}

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && !p.ShouldRetry(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(&policyBackOff{policy: p}),
		backoff.WithMaxTries(uint(p.MaxAttempts())),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("Retry '%s': Attempt %d of %d failed, retrying in %s: %v", name, attempt, p.MaxAttempts(), next, err)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}
