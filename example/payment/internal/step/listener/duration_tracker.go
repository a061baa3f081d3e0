// Package listener holds the step hooks of the payment jobs.
package listener

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// ExitDescriptionCompletedWithSkips is reported for a completed step that skipped items.
const ExitDescriptionCompletedWithSkips = "COMPLETED WITH SKIPS"

// Summary returns the outcome line of a finished step.
func Summary(se *model.StepExecution) string {
	if se.Status == model.BatchStatusCompleted && se.SkipCount() > 0 {
		return ExitDescriptionCompletedWithSkips
	}
	return se.ExitStatus.String()
}

// StepDurationTracker logs how long each step ran with its item counts and
// reports the duration to the MetricRecorder. One tracker may serve many
// partition workers at once.
type StepDurationTracker struct {
	recorder metrics.MetricRecorder

	mu      sync.Mutex
	started map[string]time.Time
}

// NewStepDurationTracker creates a StepDurationTracker. A nil recorder only logs.
func NewStepDurationTracker(recorder metrics.MetricRecorder) *StepDurationTracker {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &StepDurationTracker{recorder: recorder, started: make(map[string]time.Time)}
}

// Hooks returns the tracker's callbacks.
func (t *StepDurationTracker) Hooks() *hook.StepHooks {
	return hook.NewStepHooks().
		OnBeforeStep(t.before).
		OnAfterStep(t.after)
}

func (t *StepDurationTracker) before(_ context.Context, se *model.StepExecution) {
	t.mu.Lock()
	t.started[se.ID] = time.Now()
	t.mu.Unlock()
}

func (t *StepDurationTracker) after(ctx context.Context, se *model.StepExecution) {
	t.mu.Lock()
	start, ok := t.started[se.ID]
	delete(t.started, se.ID)
	t.mu.Unlock()
	if !ok {
		start = se.StartTime
	}
	elapsed := time.Since(start)

	summary := Summary(se)
	if summary == ExitDescriptionCompletedWithSkips {
		se.ExitDescription = summary
	}
	logger.Infof("Step '%s' %s in %s (read=%d, write=%d, filter=%d, skip=%d).",
		se.StepName, summary, elapsed.Round(time.Millisecond), se.ReadCount, se.WriteCount, se.FilterCount, se.SkipCount())
	t.recorder.RecordDuration(ctx, se.StepName, elapsed, map[string]string{"status": se.Status.String()})
}

// ChunkDurationHooks logs the time spent on every chunk.
func ChunkDurationHooks() *hook.StepHooks {
	return hook.NewStepHooks().
		OnAfterChunk(func(_ context.Context, se *model.StepExecution, chunk hook.ChunkInfo) {
			outcome := "committed"
			if !chunk.Committed {
				outcome = "rolled back"
			}
			logger.Infof("Step '%s': Chunk %d %s in %s (read=%d, write=%d, skip=%d).",
				se.StepName, chunk.Number, outcome, chunk.Duration.Round(time.Millisecond), chunk.Read, chunk.Written, chunk.Skipped)
		})
}
