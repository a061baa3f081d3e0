package metrics

import (
	"context"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// Tracer creates spans for job and step executions.
type Tracer interface {
	// StartJobSpan starts a span for a JobExecution.
	//
	// Returns: A context carrying the span and a function that ends it.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())

	// StartStepSpan starts a span for a StepExecution, normally as a child of the job span in ctx.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())

	// RecordError records err on the span in ctx.
	//
	// module: The component that failed, e.g. "reader" or "writer".
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent adds an event to the span in ctx.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
