// Package usecase holds read-only operations over the execution history.
package usecase

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

const moduleName = "job_explorer"

// JobExplorer queries batch metadata without modifying it.
type JobExplorer interface {
	// GetJobExecution returns the execution with its step executions.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)
	// GetLastJobExecution returns the latest execution of the instance identified by
	// jobName and params, or nil when the instance never ran.
	GetLastJobExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// SimpleJobExplorer implements JobExplorer on top of a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

// GetJobExecution implements JobExplorer.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to retrieve JobExecution (ID: %s)", executionID), err, false, false)
	}
	logger.Debugf("JobExplorer: Retrieved JobExecution (ID: %s) with %d step executions.", je.ID, len(je.StepExecutions))
	return je, nil
}

// GetLastJobExecution implements JobExplorer.
func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	instanceKey, err := params.InstanceKey(jobName)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to derive job instance key", err, false, false)
	}
	je, err := e.jobRepository.FindLatestJobExecution(ctx, instanceKey)
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		logger.Debugf("JobExplorer: Job instance '%s' has no executions.", instanceKey)
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to retrieve the latest JobExecution of '%s'", instanceKey), err, false, false)
	}
	return je, nil
}
