// Package logging logs job, step, chunk and skip events.
package logging

import (
	"context"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// StepHooks returns callbacks that log step boundaries at INFO, chunks at DEBUG
// and skipped items at WARN.
func StepHooks() *hook.StepHooks {
	return hook.NewStepHooks().
		OnBeforeStep(func(_ context.Context, se *model.StepExecution) {
			logger.Infof("Step '%s' (ID: %s) started.", se.StepName, se.ID)
		}).
		OnAfterStep(func(_ context.Context, se *model.StepExecution) {
			logger.Infof("Step '%s' finished. Status: %s, ExitStatus: %s, Read: %d, Write: %d, Skip: %d",
				se.StepName, se.Status, se.ExitStatus, se.ReadCount, se.WriteCount, se.SkipCount())
		}).
		OnAfterChunk(func(_ context.Context, se *model.StepExecution, chunk hook.ChunkInfo) {
			if !chunk.Committed {
				logger.Warnf("Step '%s': Chunk %d rolled back after %s.", se.StepName, chunk.Number, chunk.Duration)
				return
			}
			logger.Debugf("Step '%s': Chunk %d committed. Read: %d, Write: %d, Filter: %d, Skip: %d (%s)",
				se.StepName, chunk.Number, chunk.Read, chunk.Written, chunk.Filtered, chunk.Skipped, chunk.Duration)
		}).
		OnSkip(func(_ context.Context, se *model.StepExecution, phase hook.SkipPhase, err error) {
			logger.Warnf("Step '%s': Skipped item in %s phase (%s): %v", se.StepName, phase, exception.Classification(err), err)
		})
}

// BeforeJob logs the start of a job.
func BeforeJob(_ context.Context, je *model.JobExecution) error {
	logger.Infof("Job '%s' (ID: %s) starting. Params: %s", je.JobName, je.ID, je.Parameters.String())
	return nil
}

// AfterJob logs the outcome of a job.
func AfterJob(_ context.Context, je *model.JobExecution) error {
	if je.Status == model.BatchStatusCompleted {
		logger.Infof("Job '%s' (ID: %s) ended. Status: %s, ExitStatus: %s", je.JobName, je.ID, je.Status, je.ExitStatus)
		return nil
	}
	logger.Warnf("Job '%s' (ID: %s) ended. Status: %s, ExitStatus: %s, Failures: %v", je.JobName, je.ID, je.Status, je.ExitStatus, je.Failures)
	return nil
}

var (
	_ hook.JobFunc = BeforeJob
	_ hook.JobFunc = AfterJob
)
