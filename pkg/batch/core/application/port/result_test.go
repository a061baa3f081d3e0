package port_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
)

func TestResultConstructors(t *testing.T) {
	reason := errors.New("negative amount")

	assert.Equal(t, port.Result[int]{Outcome: port.OutcomeOk, Item: 7}, port.Ok(7))
	assert.Equal(t, port.OutcomeDrop, port.Drop[int]().Outcome)
	assert.Equal(t, reason, port.Skip[int](reason).Err)
	assert.Equal(t, port.OutcomeFatal, port.Fatal[int](reason).Outcome)
	assert.Equal(t, "SKIP", port.OutcomeSkip.String())
}

func TestPassThrough(t *testing.T) {
	res := port.PassThrough[string]().Process(context.Background(), "a")
	assert.Equal(t, port.OutcomeOk, res.Outcome)
	assert.Equal(t, "a", res.Item)
}

func TestItemWriteError_Unwrap(t *testing.T) {
	cause := errors.New("duplicate key")
	err := &port.ItemWriteError{Index: 2, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write failed for item 2: duplicate key", err.Error())
}
