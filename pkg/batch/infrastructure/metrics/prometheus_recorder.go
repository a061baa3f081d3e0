// Package metrics holds the Prometheus and OpenTelemetry backends of the
// core metrics interfaces, and the OTLP provider setup.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
//
// Partition workers are labelled by their base step name ("paymentWorker" for
// "paymentWorker:2025-01-03") so the label set stays bounded.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec

	itemSkipCounter *prometheus.CounterVec

	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seekbatch_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seekbatch_job_status_total",
			Help: "Job executions by status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seekbatch_step_duration_seconds",
			Help:    "Duration of step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seekbatch_step_status_total",
			Help: "Step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seekbatch_step_read_total",
			Help: "Items read by step.",
		}, []string{"step_name"}),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seekbatch_step_write_total",
			Help: "Items written by step.",
		}, []string{"step_name"}),
		stepCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seekbatch_step_commit_total",
			Help: "Chunk commits by step.",
		}, []string{"step_name"}),
		stepRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seekbatch_step_rollback_total",
			Help: "Chunk rollbacks by step.",
		}, []string{"step_name"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seekbatch_item_skip_total",
			Help: "Items skipped by step, phase and reason.",
		}, []string{"step_name", "phase", "reason"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seekbatch_operation_duration_seconds",
			Help:    "Duration of named operations such as hooks and exports.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "step_name"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.stepReadCount,
		r.stepWriteCount,
		r.stepCommitCount,
		r.stepRollbackCount,
		r.itemSkipCounter,
		r.operationDurationSeconds,
	)
	return r
}

// Registry returns the registry served on the /metrics endpoint.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// baseStepName strips the partition suffix from a worker step name.
func baseStepName(stepName string) string {
	base, _, _ := strings.Cut(stepName, ":")
	return base
}

func jobNameOf(se *model.StepExecution) string {
	if se.JobExecution == nil {
		return ""
	}
	return se.JobExecution.JobName
}

// RecordJobStart implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordJobStart(_ context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordJobEnd(_ context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.jobDurationSeconds.WithLabelValues(execution.JobName, execution.Status.String(), execution.ExitStatus.String()).Observe(duration)
	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepStart implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordStepStart(_ context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(jobNameOf(execution), baseStepName(execution.StepName), execution.Status.String()).Inc()
}

// RecordStepEnd implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordStepEnd(_ context.Context, execution *model.StepExecution) {
	step := baseStepName(execution.StepName)
	r.stepStatusCounter.WithLabelValues(jobNameOf(execution), step, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.stepDurationSeconds.WithLabelValues(jobNameOf(execution), step, execution.Status.String(), execution.ExitStatus.String()).Observe(duration)
	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

// RecordItemRead implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordItemRead(_ context.Context, stepName string, count int) {
	r.stepReadCount.WithLabelValues(baseStepName(stepName)).Add(float64(count))
}

// RecordItemWrite implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordItemWrite(_ context.Context, stepName string, count int) {
	r.stepWriteCount.WithLabelValues(baseStepName(stepName)).Add(float64(count))
}

// RecordItemSkip implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordItemSkip(_ context.Context, stepName string, phase string, reason string) {
	r.itemSkipCounter.WithLabelValues(baseStepName(stepName), phase, reason).Inc()
}

// RecordChunkCommit implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordChunkCommit(_ context.Context, stepName string, _ int) {
	r.stepCommitCount.WithLabelValues(baseStepName(stepName)).Inc()
}

// RecordChunkRollback implements metrics.MetricRecorder.
func (r *PrometheusRecorder) RecordChunkRollback(_ context.Context, stepName string) {
	r.stepRollbackCount.WithLabelValues(baseStepName(stepName)).Inc()
}

// RecordDuration implements metrics.MetricRecorder. The "step" tag, when present,
// becomes the step_name label.
func (r *PrometheusRecorder) RecordDuration(_ context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name, baseStepName(tags["step"])).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
