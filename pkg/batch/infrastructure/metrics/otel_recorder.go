package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
)

// OpenTelemetryRecorder implements metrics.MetricRecorder with OpenTelemetry instruments.
type OpenTelemetryRecorder struct {
	jobRuns      otelmetric.Int64Counter
	jobDuration  otelmetric.Float64Histogram
	stepRuns     otelmetric.Int64Counter
	stepDuration otelmetric.Float64Histogram
	itemsRead    otelmetric.Int64Counter
	itemsWritten otelmetric.Int64Counter
	itemsSkipped otelmetric.Int64Counter
	chunks       otelmetric.Int64Counter
	opDuration   otelmetric.Float64Histogram
}

// NewOpenTelemetryRecorder creates the instruments on a meter of provider.
func NewOpenTelemetryRecorder(provider otelmetric.MeterProvider) (*OpenTelemetryRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OpenTelemetryRecorder{}
	var err error

	if r.jobRuns, err = meter.Int64Counter("seekbatch.job.executions",
		otelmetric.WithDescription("Finished job executions by status.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("seekbatch.job.duration",
		otelmetric.WithUnit("s"), otelmetric.WithDescription("Duration of job executions.")); err != nil {
		return nil, err
	}
	if r.stepRuns, err = meter.Int64Counter("seekbatch.step.executions",
		otelmetric.WithDescription("Finished step executions by status.")); err != nil {
		return nil, err
	}
	if r.stepDuration, err = meter.Float64Histogram("seekbatch.step.duration",
		otelmetric.WithUnit("s"), otelmetric.WithDescription("Duration of step executions.")); err != nil {
		return nil, err
	}
	if r.itemsRead, err = meter.Int64Counter("seekbatch.items.read"); err != nil {
		return nil, err
	}
	if r.itemsWritten, err = meter.Int64Counter("seekbatch.items.written"); err != nil {
		return nil, err
	}
	if r.itemsSkipped, err = meter.Int64Counter("seekbatch.items.skipped"); err != nil {
		return nil, err
	}
	if r.chunks, err = meter.Int64Counter("seekbatch.chunks",
		otelmetric.WithDescription("Chunks by outcome (commit or rollback).")); err != nil {
		return nil, err
	}
	if r.opDuration, err = meter.Float64Histogram("seekbatch.operation.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordJobStart implements metrics.MetricRecorder. Only finished executions are counted.
func (r *OpenTelemetryRecorder) RecordJobStart(context.Context, *model.JobExecution) {}

// RecordJobEnd implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := otelmetric.WithAttributes(
		attribute.String("job", execution.JobName),
		attribute.String("status", execution.Status.String()),
	)
	r.jobRuns.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

// RecordStepStart implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordStepStart(context.Context, *model.StepExecution) {}

// RecordStepEnd implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := otelmetric.WithAttributes(
		attribute.String("step", baseStepName(execution.StepName)),
		attribute.String("status", execution.Status.String()),
	)
	r.stepRuns.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

// RecordItemRead implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemsRead.Add(ctx, int64(count), otelmetric.WithAttributes(attribute.String("step", baseStepName(stepName))))
}

// RecordItemWrite implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemsWritten.Add(ctx, int64(count), otelmetric.WithAttributes(attribute.String("step", baseStepName(stepName))))
}

// RecordItemSkip implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemSkip(ctx context.Context, stepName string, phase string, reason string) {
	r.itemsSkipped.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("step", baseStepName(stepName)),
		attribute.String("phase", phase),
		attribute.String("reason", reason),
	))
}

// RecordChunkCommit implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordChunkCommit(ctx context.Context, stepName string, _ int) {
	r.chunks.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("step", baseStepName(stepName)),
		attribute.String("outcome", "commit"),
	))
}

// RecordChunkRollback implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunks.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("step", baseStepName(stepName)),
		attribute.String("outcome", "rollback"),
	))
}

// RecordDuration implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.opDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)
