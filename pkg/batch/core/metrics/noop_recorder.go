package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder that records nothing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution)            {}
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution)              {}
func (r *NoOpMetricRecorder) RecordStepStart(context.Context, *model.StepExecution)          {}
func (r *NoOpMetricRecorder) RecordStepEnd(context.Context, *model.StepExecution)            {}
func (r *NoOpMetricRecorder) RecordItemRead(context.Context, string, int)                    {}
func (r *NoOpMetricRecorder) RecordItemWrite(context.Context, string, int)                   {}
func (r *NoOpMetricRecorder) RecordItemSkip(context.Context, string, string, string)         {}
func (r *NoOpMetricRecorder) RecordChunkCommit(context.Context, string, int)                 {}
func (r *NoOpMetricRecorder) RecordChunkRollback(context.Context, string)                    {}
func (r *NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is a Tracer that creates no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartJobSpan returns ctx unchanged.
func (t *NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartStepSpan returns ctx unchanged.
func (t *NoOpTracer) StartStepSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(context.Context, string, error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
