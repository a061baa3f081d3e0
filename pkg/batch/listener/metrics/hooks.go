// Package metrics reports chunk and skip events of steps to a metrics.MetricRecorder.
package metrics

import (
	"context"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

// StepHooks returns callbacks recording each chunk and skipped item on recorder.
func StepHooks(recorder metrics.MetricRecorder) *hook.StepHooks {
	return hook.NewStepHooks().
		OnAfterChunk(func(ctx context.Context, se *model.StepExecution, chunk hook.ChunkInfo) {
			recorder.RecordItemRead(ctx, se.StepName, chunk.Read)
			if !chunk.Committed {
				recorder.RecordChunkRollback(ctx, se.StepName)
				return
			}
			recorder.RecordItemWrite(ctx, se.StepName, chunk.Written)
			recorder.RecordChunkCommit(ctx, se.StepName, chunk.Written)
			recorder.RecordDuration(ctx, "chunk", chunk.Duration, map[string]string{"step": se.StepName})
		}).
		OnSkip(func(ctx context.Context, se *model.StepExecution, phase hook.SkipPhase, err error) {
			recorder.RecordItemSkip(ctx, se.StepName, string(phase), exception.Classification(err))
		})
}
