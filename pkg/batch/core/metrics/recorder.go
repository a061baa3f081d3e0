// Package metrics defines the recording and tracing abstractions the engine reports to.
// Backends live in pkg/batch/infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// MetricRecorder records metrics of job, step and chunk events.
//
// Implementations must be safe for concurrent use: partition workers report from
// several goroutines at once.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the terminal status and duration of a JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the terminal status and duration of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records count items read by stepName.
	RecordItemRead(ctx context.Context, stepName string, count int)

	// RecordItemWrite records count items written by stepName.
	RecordItemWrite(ctx context.Context, stepName string, count int)

	// RecordItemSkip records a skipped item.
	//
	// phase: "process" or "write".
	// reason: The error classification of the skipped item.
	RecordItemSkip(ctx context.Context, stepName string, phase string, reason string)

	// RecordChunkCommit records a committed chunk of count items.
	RecordChunkCommit(ctx context.Context, stepName string, count int)

	// RecordChunkRollback records a rolled back chunk.
	RecordChunkRollback(ctx context.Context, stepName string)

	// RecordDuration records the duration of a named operation.
	//
	// tags: Additional labels, e.g. {"step": "dailyStatistics"}.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
