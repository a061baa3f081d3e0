package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// ErrJobAlreadyRunning is returned when the latest execution of the same job
// instance has not reached a terminal status.
var ErrJobAlreadyRunning = errors.New("job instance is already running")

// Launcher runs jobs and records their executions.
type Launcher struct {
	Repository      repository.JobRepository
	CheckpointStore port.CheckpointStore
	// Recorder and Tracer default to no-op implementations.
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	// AbandonRunning marks a non-terminal latest execution of the same instance as
	// FAILED instead of refusing to start. Use it after a crash left an execution RUNNING.
	AbandonRunning bool
}

// NewLauncher creates a Launcher with no-op metrics.
func NewLauncher(repo repository.JobRepository, store port.CheckpointStore) *Launcher {
	return &Launcher{
		Repository:      repo,
		CheckpointStore: store,
		Recorder:        metrics.NewNoOpMetricRecorder(),
		Tracer:          metrics.NewNoOpTracer(),
	}
}

// Run executes j with params and returns the finished JobExecution.
//
// Steps run in order; the first step that ends FAILED or STOPPED ends the job with
// the same status. Cancelling ctx stops the running step at its next chunk boundary.
// A COMPLETED job clears its instance's checkpoints, so running it again with the
// same parameters starts from scratch. The returned error is non-nil when the job
// failed or its final state could not be persisted.
func (l *Launcher) Run(ctx context.Context, j *Job, params model.JobParameters) (*model.JobExecution, error) {
	const op = "Launcher.Run"
	if l.Repository == nil || l.CheckpointStore == nil {
		return nil, exception.NewBatchError(op, "launcher requires a job repository and a checkpoint store", nil, false, false)
	}
	recorder, tracer := l.Recorder, l.Tracer
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}

	logger.Infof("Launching Job '%s'. Parameters: %s", j.Name(), params.String())

	je, err := model.NewJobExecution(j.Name(), params)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to create JobExecution for '%s'", j.Name()), err, false, false)
	}

	// Bookkeeping must survive cancellation so a stopped run is still recorded.
	pctx := context.WithoutCancel(ctx)
	if err := l.resolveRestart(pctx, je); err != nil {
		return nil, err
	}
	if err := l.Repository.SaveJobExecution(pctx, je); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to save JobExecution for '%s'", j.Name()), err, false, false)
	}

	ctx, endSpan := tracer.StartJobSpan(ctx, je)
	defer endSpan()

	je.MarkAsRunning()
	recorder.RecordJobStart(ctx, je)
	var result *multierror.Error
	if err := l.Repository.UpdateJobExecution(pctx, je); err != nil {
		result = multierror.Append(result, err)
	}
	logger.Infof("Starting Job '%s' (Execution ID: %s, Instance: %s, Restart Count: %d).", je.JobName, je.ID, je.InstanceKey, je.RestartCount)

	if runErr := l.runSteps(ctx, pctx, j, je); runErr != nil {
		tracer.RecordError(ctx, "job", runErr)
		result = multierror.Append(result, runErr)
	}

	for _, fn := range j.afterJob {
		if err := fn(ctx, je); err != nil {
			logger.Warnf("Job '%s': AfterJob callback failed: %v", je.JobName, err)
			je.AddFailureException(err)
		}
	}

	if je.CurrentStatus() == model.BatchStatusCompleted {
		if err := l.CheckpointStore.DeleteByPrefix(pctx, je.InstanceKey+"/"); err != nil {
			logger.Errorf("Job '%s': Failed to clear checkpoints of instance %s: %v", je.JobName, je.InstanceKey, err)
			result = multierror.Append(result, exception.NewBatchError("checkpoint", "failed to clear checkpoints of a completed job", err, false, true))
		}
	}

	if err := l.Repository.UpdateJobExecution(pctx, je); err != nil {
		logger.Errorf("Job '%s': Failed to persist final state of JobExecution (ID: %s): %v", je.JobName, je.ID, err)
		result = multierror.Append(result, err)
	}
	recorder.RecordJobEnd(ctx, je)

	logger.Infof("Job '%s' (Execution ID: %s) finished. Final Status: %s, Exit Status: %s",
		je.JobName, je.ID, je.Status, je.ExitStatus)
	for _, se := range je.Steps() {
		logger.Debugf("  StepExecution (Step: %s): status=%s read=%d write=%d filter=%d skip=%d commit=%d rollback=%d",
			se.StepName, se.Status, se.ReadCount, se.WriteCount, se.FilterCount, se.SkipCount(), se.CommitCount, se.RollbackCount)
	}
	return je, result.ErrorOrNil()
}

// resolveRestart links je to the previous execution of the same instance.
func (l *Launcher) resolveRestart(ctx context.Context, je *model.JobExecution) error {
	const op = "Launcher.Run"
	prev, err := l.Repository.FindLatestJobExecution(ctx, je.InstanceKey)
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		return nil
	}
	if err != nil {
		return exception.NewBatchError(op, "failed to look up previous executions", err, false, true)
	}

	switch {
	case !prev.Status.IsFinished():
		if !l.AbandonRunning {
			return exception.NewBatchError(op,
				fmt.Sprintf("JobExecution (ID: %s, Status: %s) of instance %s has not finished", prev.ID, prev.Status, je.InstanceKey),
				ErrJobAlreadyRunning, false, false)
		}
		prev.MarkAsFailed(exception.NewBatchError("job", "execution abandoned", nil, false, false))
		if err := l.Repository.UpdateJobExecution(ctx, prev); err != nil {
			logger.Warnf("Failed to mark JobExecution (ID: %s) as abandoned: %v", prev.ID, err)
		}
		inheritFrom(je, prev)
		logger.Infof("Abandoned JobExecution (ID: %s) of instance %s.", prev.ID, je.InstanceKey)
	case prev.Status == model.BatchStatusFailed || prev.Status == model.BatchStatusStopped:
		inheritFrom(je, prev)
		logger.Infof("Restarting instance %s after JobExecution (ID: %s, Status: %s).", je.InstanceKey, prev.ID, prev.Status)
	}
	return nil
}

// inheritFrom makes je a restart of prev. The job ExecutionContext carries over
// so before-job callbacks can tell what an earlier attempt already did.
func inheritFrom(je, prev *model.JobExecution) {
	je.RestartCount = prev.RestartCount + 1
	if prev.ExecutionContext != nil {
		je.ExecutionContext = prev.ExecutionContext.Copy()
	}
}

// runSteps runs the before-job callbacks and the steps, and sets the terminal status.
func (l *Launcher) runSteps(ctx, pctx context.Context, j *Job, je *model.JobExecution) error {
	for _, fn := range j.beforeJob {
		if err := fn(ctx, je); err != nil {
			wrapped := exception.NewBatchError("job", "before-job callback failed", err, false, false)
			logger.Errorf("Job '%s': %v", je.JobName, wrapped)
			je.MarkAsFailed(wrapped)
			return wrapped
		}
	}
	if len(j.beforeJob) > 0 {
		// Record what the callbacks put in the context before any step can fail.
		if err := l.Repository.UpdateJobExecution(pctx, je); err != nil {
			wrapped := exception.NewBatchError("job", "failed to persist JobExecution after before-job callbacks", err, false, true)
			logger.Errorf("Job '%s': %v", je.JobName, wrapped)
			je.MarkAsFailed(wrapped)
			return wrapped
		}
	}

	for _, step := range j.steps {
		if ctx.Err() != nil {
			logger.Infof("Job '%s': Stop requested before step '%s'.", je.JobName, step.StepName())
			je.MarkAsStopped()
			return nil
		}

		se := model.NewStepExecution(je, step.StepName())
		if err := l.Repository.SaveStepExecution(pctx, se); err != nil {
			logger.Warnf("Job '%s': Failed to save StepExecution '%s': %v", je.JobName, se.StepName, err)
		}

		err := l.executeStep(ctx, step, je, se)
		l.persistSteps(pctx, je)

		switch se.Status {
		case model.BatchStatusFailed:
			if err == nil {
				err = exception.NewBatchError("job", fmt.Sprintf("step '%s' failed", se.StepName), nil, false, false)
			}
			je.MarkAsFailed(err)
			return err
		case model.BatchStatusStopped:
			je.MarkAsStopped()
			return nil
		}
	}

	je.MarkAsCompleted()
	return nil
}

func (l *Launcher) executeStep(ctx context.Context, step port.Step, je *model.JobExecution, se *model.StepExecution) error {
	recorder, tracer := l.Recorder, l.Tracer
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}

	sctx, endSpan := tracer.StartStepSpan(ctx, se)
	defer endSpan()
	recorder.RecordStepStart(sctx, se)

	err := step.Execute(sctx, je, se)
	switch {
	case err != nil && !se.Status.IsFinished():
		se.MarkAsFailed(err)
	case err == nil && !se.Status.IsFinished():
		err = exception.NewBatchError("job", fmt.Sprintf("step '%s' returned without a terminal status", se.StepName), nil, false, false)
		se.MarkAsFailed(err)
	}
	if err != nil {
		tracer.RecordError(sctx, "step", err)
	}
	recorder.RecordStepEnd(sctx, se)
	return err
}

// persistSteps saves every step execution of je, including those a partition step added.
func (l *Launcher) persistSteps(ctx context.Context, je *model.JobExecution) {
	for _, se := range je.Steps() {
		if err := l.Repository.SaveStepExecution(ctx, se); err != nil {
			logger.Warnf("Job '%s': Failed to save StepExecution '%s': %v", je.JobName, se.StepName, err)
		}
	}
}
