package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

func TestStepHooks_FireInRegistrationOrder(t *testing.T) {
	var calls []string
	h := NewStepHooks().
		OnBeforeStep(func(context.Context, *model.StepExecution) { calls = append(calls, "before-1") }).
		OnBeforeStep(func(context.Context, *model.StepExecution) { calls = append(calls, "before-2") }).
		OnAfterChunk(func(_ context.Context, _ *model.StepExecution, c ChunkInfo) {
			calls = append(calls, "chunk")
			assert.Equal(t, 3, c.Number)
		}).
		OnSkip(func(_ context.Context, _ *model.StepExecution, phase SkipPhase, _ error) {
			calls = append(calls, string(phase))
		})

	se := model.NewStepExecution(nil, "step")
	h.FireBeforeStep(context.Background(), se)
	h.FireAfterChunk(context.Background(), se, ChunkInfo{Number: 3})
	h.FireSkip(context.Background(), se, SkipInWrite, errors.New("dup"))
	h.FireAfterStep(context.Background(), se)

	assert.Equal(t, []string{"before-1", "before-2", "chunk", "write"}, calls)
}

func TestStepHooks_NilIsNoop(t *testing.T) {
	var h *StepHooks
	assert.NotPanics(t, func() {
		h.FireBeforeStep(context.Background(), nil)
		h.FireSkip(context.Background(), nil, SkipInProcess, nil)
	})
}

func TestStepHooks_Merge(t *testing.T) {
	count := 0
	a := NewStepHooks().OnAfterStep(func(context.Context, *model.StepExecution) { count++ })
	b := NewStepHooks().OnAfterStep(func(context.Context, *model.StepExecution) { count += 10 })

	a.Merge(b).Merge(nil)
	a.FireAfterStep(context.Background(), nil)
	assert.Equal(t, 11, count)
}
