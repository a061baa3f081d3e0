package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

func finishedExecutions(t *testing.T) (*model.JobExecution, *model.StepExecution) {
	t.Helper()
	je, err := model.NewJobExecution("paymentStatisticsJob", model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"}))
	require.NoError(t, err)
	je.MarkAsRunning()
	se := model.NewStepExecution(je, "paymentWorker:2025-01-05")
	se.MarkAsRunning()
	se.ReadCount = 4
	se.MarkAsCompleted()
	je.MarkAsCompleted()
	return je, se
}

func TestPrometheusRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewPrometheusRecorder()
	je, se := finishedExecutions(t)

	r.RecordJobEnd(ctx, je)
	r.RecordStepEnd(ctx, se)
	r.RecordItemRead(ctx, "paymentWorker:2025-01-05", 3)
	r.RecordItemRead(ctx, "paymentWorker:2025-01-06", 2)
	r.RecordItemWrite(ctx, "paymentWorker:2025-01-05", 4)
	r.RecordItemSkip(ctx, "paymentWorker:2025-01-05", "process", "processor")
	r.RecordChunkCommit(ctx, "paymentWorker:2025-01-05", 4)
	r.RecordChunkRollback(ctx, "paymentWorker:2025-01-05")
	r.RecordDuration(ctx, "clearExistingData", time.Millisecond, map[string]string{"step": "dailyStatistics"})

	assert.Equal(t, float64(5), testutil.ToFloat64(r.stepReadCount.WithLabelValues("paymentWorker")), "partitions share the base step label")
	assert.Equal(t, float64(4), testutil.ToFloat64(r.stepWriteCount.WithLabelValues("paymentWorker")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.itemSkipCounter.WithLabelValues("paymentWorker", "process", "processor")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stepCommitCount.WithLabelValues("paymentWorker")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stepRollbackCount.WithLabelValues("paymentWorker")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.jobStatusCounter.WithLabelValues("paymentStatisticsJob", "COMPLETED")))

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOpenTelemetryTracer_RecordsSpans(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	tracer := NewOpenTelemetryTracer(tp)

	je, err := model.NewJobExecution("paymentStatisticsJob", model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"}))
	require.NoError(t, err)
	je.MarkAsRunning()

	jobCtx, endJob := tracer.StartJobSpan(ctx, je)
	se := model.NewStepExecution(je, "dailyStatistics")
	se.MarkAsRunning()
	stepCtx, endStep := tracer.StartStepSpan(jobCtx, se)
	tracer.RecordEvent(stepCtx, "chunk.rollback", map[string]interface{}{"chunk": 2, "reason": "deadlock"})
	tracer.RecordError(stepCtx, "writer", errors.New("deadlock"))
	se.MarkAsFailed(errors.New("deadlock"))
	endStep()
	je.MarkAsFailed(errors.New("deadlock"))
	endJob()

	ended := spans.Ended()
	require.Len(t, ended, 2)
	step, job := ended[0], ended[1]
	assert.Equal(t, "step dailyStatistics", step.Name())
	assert.Equal(t, "job paymentStatisticsJob", job.Name())
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())
	assert.Equal(t, otelcodes.Error, step.Status().Code)
	assert.Equal(t, otelcodes.Error, job.Status().Code)
	require.NotEmpty(t, step.Events())
	assert.Equal(t, "chunk.rollback", step.Events()[0].Name)
}

func TestOpenTelemetryRecorder_CollectsInstruments(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := NewOpenTelemetryRecorder(mp)
	require.NoError(t, err)

	je, se := finishedExecutions(t)
	r.RecordJobEnd(ctx, je)
	r.RecordStepEnd(ctx, se)
	r.RecordItemRead(ctx, "paymentWorker:2025-01-05", 7)
	r.RecordChunkCommit(ctx, "paymentWorker:2025-01-05", 7)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}
	read, ok := byName["seekbatch.items.read"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, read.DataPoints, 1)
	assert.Equal(t, int64(7), read.DataPoints[0].Value)
	assert.Contains(t, byName, "seekbatch.job.duration")
	assert.Contains(t, byName, "seekbatch.chunks")
}

func TestCompositeRecorder_FansOut(t *testing.T) {
	ctx := context.Background()
	a, b := NewPrometheusRecorder(), NewPrometheusRecorder()
	c := NewCompositeRecorder(a, nil, b)
	require.Len(t, c, 2)

	c.RecordItemWrite(ctx, "dailyStatistics", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(a.stepWriteCount.WithLabelValues("dailyStatistics")))
	assert.Equal(t, float64(3), testutil.ToFloat64(b.stepWriteCount.WithLabelValues("dailyStatistics")))
}

func TestNewTelemetry_DisabledIsNoop(t *testing.T) {
	tel, err := NewTelemetry(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NotNil(t, tel.TracerProvider)
	assert.NotNil(t, tel.MeterProvider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}
