// Package skip decides whether a classified item failure may be skipped.
//
// Policies are pure: the chunk engine owns the running skip count and passes it in.
package skip

import (
	"errors"
	"fmt"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

// Policy decides whether err may be skipped given the number of items already skipped
// by the step.
type Policy interface {
	ShouldSkip(err error, skipCount int64) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(err error, skipCount int64) bool

// ShouldSkip calls f.
func (f PolicyFunc) ShouldSkip(err error, skipCount int64) bool {
	return f(err, skipCount)
}

// Never returns a policy that treats every error as fatal.
func Never() Policy {
	return PolicyFunc(func(error, int64) bool { return false })
}

// Always returns a policy that skips every error with no limit.
func Always() Policy {
	return PolicyFunc(func(err error, _ int64) bool { return err != nil })
}

// LimitPolicy skips errors matching one of its kinds while fewer than Limit items
// have been skipped. Any other error is fatal.
type LimitPolicy struct {
	limit int64
	kinds []error
}

// Limit returns a LimitPolicy. A limit of zero never skips.
func Limit(limit int64, kinds ...error) *LimitPolicy {
	return &LimitPolicy{limit: limit, kinds: append([]error(nil), kinds...)}
}

// LimitByName resolves kind names through the exception registry.
// Unknown names are an error, so a typo in configuration cannot silently make
// an error fatal.
func LimitByName(limit int64, names ...string) (*LimitPolicy, error) {
	kinds := make([]error, 0, len(names))
	for _, name := range names {
		sentinel, ok := exception.LookupErrorType(name)
		if !ok {
			return nil, exception.NewBatchErrorf("skip", "unknown skippable error kind %q (registered: %v)", name, exception.RegisteredErrorTypes())
		}
		kinds = append(kinds, sentinel)
	}
	if limit < 0 {
		return nil, exception.NewBatchError("skip", fmt.Sprintf("skip limit must not be negative, got %d", limit), nil, false, false)
	}
	return Limit(limit, kinds...), nil
}

// ShouldSkip implements Policy.
func (p *LimitPolicy) ShouldSkip(err error, skipCount int64) bool {
	if err == nil || skipCount >= p.limit {
		return false
	}
	for _, kind := range p.kinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Limit returns the configured skip limit.
func (p *LimitPolicy) Limit() int64 {
	return p.limit
}
