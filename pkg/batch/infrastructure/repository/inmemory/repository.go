// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It suits tests and single-process runs whose history need not survive the process.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

// InMemoryJobRepository holds executions in maps. Stored values are snapshots, so
// later changes to a caller's execution are invisible until it is saved again.
type InMemoryJobRepository struct {
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	mu             sync.RWMutex
}

// NewInMemoryJobRepository creates an empty InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
	}
}

// SaveJobExecution implements repository.JobExecutionRepository.
func (r *InMemoryJobRepository) SaveJobExecution(_ context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
	}
	r.jobExecutions[jobExecution.ID] = cloneJobExecution(jobExecution)
	return nil
}

// UpdateJobExecution implements repository.JobExecutionRepository.
func (r *InMemoryJobRepository) UpdateJobExecution(_ context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		return fmt.Errorf("JobExecution with ID %s not found for update", jobExecution.ID)
	}
	if stored.Version != jobExecution.Version {
		return exception.NewBatchError("repository",
			fmt.Sprintf("JobExecution (ID: %s) with version %d not found for update", jobExecution.ID, jobExecution.Version),
			exception.ErrOptimisticLockingFailure, false, false)
	}
	jobExecution.Version++
	r.jobExecutions[jobExecution.ID] = cloneJobExecution(jobExecution)
	return nil
}

// FindJobExecutionByID implements repository.JobExecutionRepository.
func (r *InMemoryJobRepository) FindJobExecutionByID(_ context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withStepsLocked(stored), nil
}

// FindLatestJobExecution implements repository.JobExecutionRepository.
func (r *InMemoryJobRepository) FindLatestJobExecution(_ context.Context, instanceKey string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.InstanceKey != instanceKey {
			continue
		}
		if latest == nil || je.CreateTime.After(latest.CreateTime) {
			latest = je
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withStepsLocked(latest), nil
}

// SaveStepExecution implements repository.StepExecutionRepository.
func (r *InMemoryJobRepository) SaveStepExecution(_ context.Context, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepExecutions[se.ID] = cloneStepExecution(se)
	return nil
}

// FindStepExecutionsByJobExecutionID implements repository.StepExecutionRepository.
func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(_ context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepsLocked(jobExecutionID), nil
}

// Close implements repository.JobRepository. It holds no resources.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

func (r *InMemoryJobRepository) stepsLocked(jobExecutionID string) []*model.StepExecution {
	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, cloneStepExecution(se))
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].StartTime.Equal(steps[j].StartTime) {
			return steps[i].StepName < steps[j].StepName
		}
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	return steps
}

func (r *InMemoryJobRepository) withStepsLocked(stored *model.JobExecution) *model.JobExecution {
	je := cloneJobExecution(stored)
	je.StepExecutions = r.stepsLocked(je.ID)
	for _, se := range je.StepExecutions {
		se.JobExecution = je
	}
	return je
}

// cloneJobExecution copies the persisted fields of je. Step executions are stored separately.
func cloneJobExecution(je *model.JobExecution) *model.JobExecution {
	return &model.JobExecution{
		ID:               je.ID,
		JobName:          je.JobName,
		InstanceKey:      je.InstanceKey,
		Parameters:       je.Parameters,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		Failures:         append(model.FailureList{}, je.Failures...),
		StepExecutions:   make([]*model.StepExecution, 0),
		ExecutionContext: je.ExecutionContext.Copy(),
		RestartCount:     je.RestartCount,
		Version:          je.Version,
	}
}

func cloneStepExecution(se *model.StepExecution) *model.StepExecution {
	c := *se
	c.JobExecution = nil
	c.Failures = append(model.FailureList{}, se.Failures...)
	c.ExecutionContext = se.ExecutionContext.Copy()
	return &c
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
