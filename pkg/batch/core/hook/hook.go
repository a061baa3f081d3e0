// Package hook holds the callback registration points of jobs and steps.
//
// Callbacks are registered before a job runs and fired by the engine; registration
// is not safe concurrently with firing. Callbacks fired from partition workers run
// on several goroutines at once and must be safe for concurrent use.
package hook

import (
	"context"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// JobFunc is called before or after a job. An error from a before-job callback fails the job.
type JobFunc func(ctx context.Context, je *model.JobExecution) error

// StepFunc is called before or after a step.
type StepFunc func(ctx context.Context, se *model.StepExecution)

// ChunkInfo describes one chunk.
type ChunkInfo struct {
	// Number is the 1-based sequence of the chunk within the current execution.
	Number int
	// Read, Written, Filtered and Skipped count the chunk's items.
	Read     int
	Written  int
	Filtered int
	Skipped  int
	// Committed is false when the chunk was rolled back.
	Committed bool
	Duration  time.Duration
}

// ChunkFunc is called before (with an empty ChunkInfo) and after each chunk.
type ChunkFunc func(ctx context.Context, se *model.StepExecution, chunk ChunkInfo)

// SkipPhase tells where a skipped item failed.
type SkipPhase string

const (
	SkipInProcess SkipPhase = "process"
	SkipInWrite   SkipPhase = "write"
)

// SkipFunc is called for every skipped item.
type SkipFunc func(ctx context.Context, se *model.StepExecution, phase SkipPhase, err error)

// StepHooks collects step callbacks. The zero value is ready to use and a nil
// *StepHooks fires nothing.
type StepHooks struct {
	beforeStep  []StepFunc
	afterStep   []StepFunc
	beforeChunk []ChunkFunc
	afterChunk  []ChunkFunc
	onSkip      []SkipFunc
}

// NewStepHooks creates an empty StepHooks.
func NewStepHooks() *StepHooks {
	return &StepHooks{}
}

// OnBeforeStep registers fn to run when a step starts.
func (h *StepHooks) OnBeforeStep(fn StepFunc) *StepHooks {
	h.beforeStep = append(h.beforeStep, fn)
	return h
}

// OnAfterStep registers fn to run when a step reaches a terminal status.
func (h *StepHooks) OnAfterStep(fn StepFunc) *StepHooks {
	h.afterStep = append(h.afterStep, fn)
	return h
}

// OnBeforeChunk registers fn to run before each chunk is read.
func (h *StepHooks) OnBeforeChunk(fn ChunkFunc) *StepHooks {
	h.beforeChunk = append(h.beforeChunk, fn)
	return h
}

// OnAfterChunk registers fn to run after each chunk commits or rolls back.
func (h *StepHooks) OnAfterChunk(fn ChunkFunc) *StepHooks {
	h.afterChunk = append(h.afterChunk, fn)
	return h
}

// OnSkip registers fn to run for each skipped item.
func (h *StepHooks) OnSkip(fn SkipFunc) *StepHooks {
	h.onSkip = append(h.onSkip, fn)
	return h
}

// Merge appends other's callbacks to h.
func (h *StepHooks) Merge(other *StepHooks) *StepHooks {
	if other == nil {
		return h
	}
	h.beforeStep = append(h.beforeStep, other.beforeStep...)
	h.afterStep = append(h.afterStep, other.afterStep...)
	h.beforeChunk = append(h.beforeChunk, other.beforeChunk...)
	h.afterChunk = append(h.afterChunk, other.afterChunk...)
	h.onSkip = append(h.onSkip, other.onSkip...)
	return h
}

// FireBeforeStep runs the before-step callbacks.
func (h *StepHooks) FireBeforeStep(ctx context.Context, se *model.StepExecution) {
	if h == nil {
		return
	}
	for _, fn := range h.beforeStep {
		fn(ctx, se)
	}
}

// FireAfterStep runs the after-step callbacks.
func (h *StepHooks) FireAfterStep(ctx context.Context, se *model.StepExecution) {
	if h == nil {
		return
	}
	for _, fn := range h.afterStep {
		fn(ctx, se)
	}
}

// FireBeforeChunk runs the before-chunk callbacks.
func (h *StepHooks) FireBeforeChunk(ctx context.Context, se *model.StepExecution, chunk ChunkInfo) {
	if h == nil {
		return
	}
	for _, fn := range h.beforeChunk {
		fn(ctx, se, chunk)
	}
}

// FireAfterChunk runs the after-chunk callbacks.
func (h *StepHooks) FireAfterChunk(ctx context.Context, se *model.StepExecution, chunk ChunkInfo) {
	if h == nil {
		return
	}
	for _, fn := range h.afterChunk {
		fn(ctx, se, chunk)
	}
}

// FireSkip runs the skip callbacks.
func (h *StepHooks) FireSkip(ctx context.Context, se *model.StepExecution, phase SkipPhase, err error) {
	if h == nil {
		return
	}
	for _, fn := range h.onSkip {
		fn(ctx, se, phase, err)
	}
}
