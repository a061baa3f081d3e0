// Package port defines the contracts between the batch engine and the components it drives:
// readers, processors, writers, checkpoint stores and steps.
package port

import (
	"context"
	"fmt"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// ItemReader is a resumable source of items.
//
// Read returns io.EOF once the source is exhausted; exhaustion is not an error.
type ItemReader[T any] interface {
	// Open prepares the reader. A non-empty checkpoint restores the position saved by
	// a previous execution; an empty one starts a fresh scan.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   checkpoint: The ExecutionContext loaded from the CheckpointStore.
	//
	// Returns:
	//   error: An error if the reader cannot be opened.
	Open(ctx context.Context, checkpoint model.ExecutionContext) error
	// Read returns the next item, or io.EOF when no items remain.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//
	// Returns:
	//   T: The item read.
	//   error: io.EOF at the end of data, or a fatal read error.
	Read(ctx context.Context) (T, error)
	// Checkpoint returns the state needed to resume after the last item returned by Read.
	//
	// Returns:
	//   model.ExecutionContext: The reader position.
	//   error: An error if the position cannot be captured.
	Checkpoint() (model.ExecutionContext, error)
	// Close releases resources held by the reader.
	Close(ctx context.Context) error
}

// ItemProcessor transforms one item into a tagged Result.
type ItemProcessor[I, O any] interface {
	// Process applies the transformation to item.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   item: The item to transform.
	//
	// Returns:
	//   Result[O]: Ok, Drop, Skip or Fatal.
	Process(ctx context.Context, item I) Result[O]
}

// ProcessorFunc adapts a function to ItemProcessor.
type ProcessorFunc[I, O any] func(ctx context.Context, item I) Result[O]

// Process calls f.
func (f ProcessorFunc[I, O]) Process(ctx context.Context, item I) Result[O] {
	return f(ctx, item)
}

// PassThrough returns a processor that keeps every item unchanged.
func PassThrough[T any]() ItemProcessor[T, T] {
	return ProcessorFunc[T, T](func(_ context.Context, item T) Result[T] {
		return Ok(item)
	})
}

// ItemWriter persists a chunk of items.
//
// Write must either write every item or fail. A writer that can tell which item
// caused a failure returns *ItemWriteError so the engine can skip that item and
// rewrite the rest in the same transaction.
type ItemWriter[T any] interface {
	// Open prepares the writer.
	Open(ctx context.Context) error
	// Write persists items. ctx carries the chunk transaction.
	//
	// Parameters:
	//   ctx: The context carrying the chunk transaction.
	//   items: The surviving items of the chunk, in key order.
	//
	// Returns:
	//   error: nil, an *ItemWriteError, or a fatal error.
	Write(ctx context.Context, items []T) error
	// Close releases resources held by the writer.
	Close(ctx context.Context) error
}

// ItemWriteError attributes a write failure to the item at Index of the slice passed to Write.
type ItemWriteError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *ItemWriteError) Error() string {
	return fmt.Sprintf("write failed for item %d: %v", e.Index, e.Err)
}

// Unwrap returns the item's error.
func (e *ItemWriteError) Unwrap() error {
	return e.Err
}

// CheckpointStore persists ExecutionContexts keyed by step or partition execution key.
type CheckpointStore interface {
	// Load returns the checkpoint saved under key, or an empty context when none exists.
	Load(ctx context.Context, key string) (model.ExecutionContext, error)
	// Save stores ec under key. When ctx carries a transaction the save joins it.
	Save(ctx context.Context, key string, ec model.ExecutionContext) error
	// Delete removes the checkpoint saved under key.
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every checkpoint whose key starts with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// Step is a unit of work inside a Job: a chunk step or a partition coordinator.
type Step interface {
	// StepName returns the logical name of the step.
	StepName() string
	// Execute runs the step, updating stepExecution's status and counters.
	//
	// Parameters:
	//   ctx: Cancelling ctx asks the step to stop at the next chunk boundary.
	//   jobExecution: The owning JobExecution.
	//   stepExecution: The StepExecution to update.
	//
	// Returns:
	//   error: The fatal error that failed the step, or nil for COMPLETED and STOPPED.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
}
