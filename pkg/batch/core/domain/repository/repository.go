// Package repository defines persistence of job and step executions.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// ErrJobExecutionNotFound is returned when no JobExecution matches a lookup.
var ErrJobExecutionNotFound = errors.New("job execution not found")

// JobExecutionRepository persists JobExecutions.
type JobExecutionRepository interface {
	// SaveJobExecution stores a new JobExecution.
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	// UpdateJobExecution stores the current state of a saved JobExecution. It fails with
	// exception.ErrOptimisticLockingFailure when the stored version moved on.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	// FindJobExecutionByID returns the JobExecution with its StepExecutions.
	FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error)
	// FindLatestJobExecution returns the most recently created JobExecution of a job instance.
	FindLatestJobExecution(ctx context.Context, instanceKey string) (*model.JobExecution, error)
}

// StepExecutionRepository persists StepExecutions.
type StepExecutionRepository interface {
	// SaveStepExecution inserts or replaces se.
	SaveStepExecution(ctx context.Context, se *model.StepExecution) error
	// FindStepExecutionsByJobExecutionID returns the StepExecutions of a JobExecution ordered by start time.
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}

// JobRepository stores the execution history of jobs.
type JobRepository interface {
	JobExecutionRepository
	StepExecutionRepository
	// Close releases the repository's resources.
	Close() error
}
