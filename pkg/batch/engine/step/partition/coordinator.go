// Package partition runs one worker step per partition of the input on a bounded
// pool of goroutines and folds their results into the coordinator's StepExecution.
package partition

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Keys written to the coordinator's ExecutionContext when it finishes.
const (
	ContextKeyPartitionCount      = "partition.count"
	ContextKeyPartitionCompleted  = "partition.completed"
	ContextKeyPartitionFailed     = "partition.failed"
	ContextKeyPartitionStopped    = "partition.stopped"
	ContextKeyPartitionNotStarted = "partition.notStarted"
)

// Config holds the settings of a Coordinator.
type Config struct {
	StartDate time.Time
	EndDate   time.Time
	// WorkerCount bounds the number of partitions running at once.
	WorkerCount int
	// FailFast stops dispatching new partitions after the first failure.
	FailFast bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount)
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return fmt.Errorf("start and end dates are required")
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end date %s is before start date %s",
			c.EndDate.Format(model.DateLayout), c.StartDate.Format(model.DateLayout))
	}
	return nil
}

// StepFactory builds the worker step of a partition. Each call must return a step
// with its own reader, processor and writer.
type StepFactory func(p Partition) (port.Step, error)

// Dependencies are the services a Coordinator calls.
type Dependencies struct {
	// Hooks fire for the coordinator's own StepExecution.
	Hooks *hook.StepHooks
}

// Coordinator is a port.Step that executes a worker step per partition.
type Coordinator struct {
	name        string
	cfg         Config
	partitioner Partitioner
	factory     StepFactory
	hooks       *hook.StepHooks
}

// NewCoordinator validates its arguments and creates a Coordinator.
func NewCoordinator(name string, cfg Config, partitioner Partitioner, factory StepFactory, deps Dependencies) (*Coordinator, error) {
	const op = "Coordinator.New"
	if name == "" {
		return nil, exception.NewBatchError(op, "step name is required", nil, false, false)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("step '%s': invalid partition configuration", name), err, false, false)
	}
	if partitioner == nil || factory == nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("step '%s': partitioner and step factory are required", name), nil, false, false)
	}
	return &Coordinator{
		name:        name,
		cfg:         cfg,
		partitioner: partitioner,
		factory:     factory,
		hooks:       deps.Hooks,
	}, nil
}

// StepName implements port.Step.
func (c *Coordinator) StepName() string {
	return c.name
}

// WorkerStepName returns the StepExecution name of partition p.
func (c *Coordinator) WorkerStepName(p Partition) string {
	return c.name + ":" + p.Name
}

type partitionResult struct {
	partition  Partition
	execution  *model.StepExecution
	err        error
	notStarted bool
}

type tally struct {
	completed, failed, stopped, notStarted int
	errs                                   *multierror.Error
}

// Execute implements port.Step.
//
// Cancelling ctx stops dispatch: partitions not yet started are left alone and
// running partitions stop at their next chunk boundary. The aggregate status is
// FAILED if any partition failed, else STOPPED if any partition stopped or never
// started, else COMPLETED.
func (c *Coordinator) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	logger.Infof("PartitionStep '%s' executing (Workers: %d, FailFast: %t).", c.name, c.cfg.WorkerCount, c.cfg.FailFast)

	stepExecution.MarkAsRunning()
	c.hooks.FireBeforeStep(ctx, stepExecution)

	partitions, err := c.partitioner.Partition(ctx, c.cfg.StartDate, c.cfg.EndDate)
	if err != nil {
		wrapped := exception.NewBatchError("partition", "failed to create partitions", err, false, false)
		stepExecution.MarkAsFailed(wrapped)
		c.hooks.FireAfterStep(ctx, stepExecution)
		return wrapped
	}
	logger.Infof("PartitionStep '%s': Partitioner returned %d partitions.", c.name, len(partitions))

	results := make(chan partitionResult, len(partitions))
	aggregated := make(chan tally, 1)
	go func() {
		aggregated <- c.aggregate(stepExecution, results)
	}()

	var failed atomic.Bool
	var g errgroup.Group
	g.SetLimit(c.cfg.WorkerCount)
	for _, p := range partitions {
		if ctx.Err() != nil || (c.cfg.FailFast && failed.Load()) {
			results <- partitionResult{partition: p, notStarted: true}
			continue
		}
		g.Go(func() error {
			// The slot may have been granted after a stop or a failure.
			if ctx.Err() != nil || (c.cfg.FailFast && failed.Load()) {
				results <- partitionResult{partition: p, notStarted: true}
				return nil
			}
			res := c.runPartition(ctx, jobExecution, p)
			if res.err != nil {
				failed.Store(true)
			}
			results <- res
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	t := <-aggregated

	stepExecution.ExecutionContext.Put(ContextKeyPartitionCount, len(partitions))
	stepExecution.ExecutionContext.Put(ContextKeyPartitionCompleted, t.completed)
	stepExecution.ExecutionContext.Put(ContextKeyPartitionFailed, t.failed)
	stepExecution.ExecutionContext.Put(ContextKeyPartitionStopped, t.stopped)
	stepExecution.ExecutionContext.Put(ContextKeyPartitionNotStarted, t.notStarted)

	var result error
	switch {
	case t.failed > 0:
		result = exception.NewBatchError("partition",
			fmt.Sprintf("%d of %d partitions failed", t.failed, len(partitions)), t.errs.ErrorOrNil(), false, false)
		stepExecution.MarkAsFailed(result)
	case t.stopped > 0 || t.notStarted > 0:
		stepExecution.MarkAsStopped()
	default:
		stepExecution.MarkAsCompleted()
	}

	c.hooks.FireAfterStep(ctx, stepExecution)
	logger.Infof("PartitionStep '%s' finished. ExitStatus: %s (completed=%d, failed=%d, stopped=%d, not started=%d)",
		c.name, stepExecution.ExitStatus, t.completed, t.failed, t.stopped, t.notStarted)
	return result
}

// runPartition builds and executes the worker step of p on the calling goroutine.
func (c *Coordinator) runPartition(ctx context.Context, jobExecution *model.JobExecution, p Partition) (res partitionResult) {
	worker := model.NewStepExecution(jobExecution, c.WorkerStepName(p))
	worker.ExecutionContext.Merge(p.Context)
	res = partitionResult{partition: p, execution: worker}

	defer func() {
		if r := recover(); r != nil {
			res.err = exception.NewBatchError("partition", fmt.Sprintf("partition %s panicked", p.Name), fmt.Errorf("%v", r), false, false)
			worker.MarkAsFailed(res.err)
		}
	}()

	step, err := c.factory(p)
	if err != nil {
		res.err = exception.NewBatchError("partition", fmt.Sprintf("failed to build worker step for partition %s", p.Name), err, false, false)
		worker.MarkAsFailed(res.err)
		return res
	}

	logger.Debugf("PartitionStep '%s': Starting worker '%s'.", c.name, worker.StepName)
	if err := step.Execute(ctx, jobExecution, worker); err != nil {
		res.err = fmt.Errorf("partition %s: %w", p.Name, err)
	} else if worker.Status == model.BatchStatusFailed {
		res.err = fmt.Errorf("partition %s: worker finished with status %s", p.Name, worker.Status)
	}
	return res
}

// aggregate is the only goroutine that touches the coordinator's counters while
// workers are running.
func (c *Coordinator) aggregate(stepExecution *model.StepExecution, results <-chan partitionResult) tally {
	var t tally
	for res := range results {
		if res.notStarted {
			t.notStarted++
			logger.Infof("PartitionStep '%s': Partition %s was not started.", c.name, res.partition.Name)
			continue
		}
		stepExecution.Accumulate(res.execution)
		switch {
		case res.err != nil:
			t.failed++
			t.errs = multierror.Append(t.errs, res.err)
			for _, f := range res.execution.Failures {
				if !containsFailure(stepExecution.Failures, f) {
					stepExecution.Failures = append(stepExecution.Failures, f)
				}
			}
			logger.Errorf("PartitionStep '%s': Worker '%s' failed: %v", c.name, res.execution.StepName, res.err)
		case res.execution.Status == model.BatchStatusStopped:
			t.stopped++
			logger.Infof("PartitionStep '%s': Worker '%s' stopped.", c.name, res.execution.StepName)
		default:
			t.completed++
			logger.Infof("PartitionStep '%s': Worker '%s' completed with status: %s", c.name, res.execution.StepName, res.execution.ExitStatus)
		}
	}
	return t
}

func containsFailure(list model.FailureList, msg string) bool {
	for _, f := range list {
		if f == msg {
			return true
		}
	}
	return false
}

var _ port.Step = (*Coordinator)(nil)
