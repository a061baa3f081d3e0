package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

var errLockTimeout = errors.New("lock wait timeout")

func TestDefaultPolicy_ShouldRetry(t *testing.T) {
	exception.RegisterErrorType("LockTimeout", errLockTimeout)
	p := NewPolicy(3, 10*time.Millisecond, "LockTimeout")

	assert.True(t, p.ShouldRetry(exception.NewBatchError("reader", "fetch failed", nil, false, true)))
	assert.True(t, p.ShouldRetry(errLockTimeout))
	assert.False(t, p.ShouldRetry(errors.New("syntax error")))
	assert.False(t, p.ShouldRetry(nil))
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Equal(t, 10*time.Millisecond, p.Backoff(2))

	assert.Equal(t, 1, NewPolicy(0, 0).MaxAttempts())
}

func TestDo_RecoversFromTransientError(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), NewPolicy(3, 0), "fetch", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, exception.NewBatchError("reader", "connection reset", nil, false, true)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	transient := exception.NewBatchError("reader", "connection reset", nil, false, true)
	calls := 0
	_, err := Do(context.Background(), NewPolicy(2, 0), "fetch", func() (int, error) {
		calls++
		return 0, transient
	})
	assert.Same(t, transient, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ReturnsPermanentErrorUnwrapped(t *testing.T) {
	permanent := errors.New("syntax error")
	calls := 0
	_, err := Do(context.Background(), NewPolicy(5, 0), "fetch", func() (int, error) {
		calls++
		return 0, permanent
	})
	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NeverRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Never(), "fetch", func() (struct{}, error) {
		calls++
		return struct{}{}, exception.NewBatchError("reader", "connection reset", nil, false, true)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, Never().ShouldRetry(err))
}
