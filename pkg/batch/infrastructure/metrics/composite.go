package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
)

// CompositeRecorder forwards every call to each of its recorders in order.
type CompositeRecorder []metrics.MetricRecorder

// NewCompositeRecorder drops nil recorders and returns the rest as one recorder.
func NewCompositeRecorder(recorders ...metrics.MetricRecorder) CompositeRecorder {
	c := make(CompositeRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			c = append(c, r)
		}
	}
	return c
}

func (c CompositeRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	for _, r := range c {
		r.RecordJobStart(ctx, execution)
	}
}

func (c CompositeRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	for _, r := range c {
		r.RecordJobEnd(ctx, execution)
	}
}

func (c CompositeRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c {
		r.RecordStepStart(ctx, execution)
	}
}

func (c CompositeRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c {
		r.RecordStepEnd(ctx, execution)
	}
}

func (c CompositeRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordItemRead(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordItemWrite(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordItemSkip(ctx context.Context, stepName string, phase string, reason string) {
	for _, r := range c {
		r.RecordItemSkip(ctx, stepName, phase, reason)
	}
}

func (c CompositeRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordChunkCommit(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	for _, r := range c {
		r.RecordChunkRollback(ctx, stepName)
	}
}

func (c CompositeRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	for _, r := range c {
		r.RecordDuration(ctx, name, duration, tags)
	}
}

var _ metrics.MetricRecorder = CompositeRecorder(nil)
