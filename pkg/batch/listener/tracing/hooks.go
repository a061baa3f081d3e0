// Package tracing adds chunk and skip events to the step span in the context.
package tracing

import (
	"context"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

// StepHooks returns callbacks recording rolled back chunks and skipped items as
// span events. Committed chunks are not recorded to keep spans small.
func StepHooks(tracer metrics.Tracer) *hook.StepHooks {
	return hook.NewStepHooks().
		OnAfterChunk(func(ctx context.Context, se *model.StepExecution, chunk hook.ChunkInfo) {
			if chunk.Committed {
				return
			}
			tracer.RecordEvent(ctx, "chunk.rollback", map[string]interface{}{
				"step":  se.StepName,
				"chunk": chunk.Number,
				"read":  chunk.Read,
			})
		}).
		OnSkip(func(ctx context.Context, se *model.StepExecution, phase hook.SkipPhase, err error) {
			tracer.RecordEvent(ctx, "item.skip", map[string]interface{}{
				"step":   se.StepName,
				"phase":  string(phase),
				"reason": exception.Classification(err),
				"error":  err.Error(),
			})
		})
}
