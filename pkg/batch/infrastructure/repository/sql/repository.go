// Package sql provides a JobRepository persisted through GORM in the
// batch_job_execution and batch_step_execution tables.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// SQLJobRepository implements repository.JobRepository.
type SQLJobRepository struct {
	db *gorm.DB
}

// NewSQLJobRepository creates a SQLJobRepository on db.
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

// AutoMigrate creates the execution tables. Deployments normally use the SQL
// migrations instead.
func (r *SQLJobRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&JobExecutionEntity{}, &StepExecutionEntity{})
}

// --- JobExecution implementation ---

// SaveJobExecution implements repository.JobExecutionRepository.
func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	entity := fromDomainJobExecution(jobExecution)

	if _, err := gormadapter.ExecutorFromContext(ctx, r.db).ExecuteUpdate(ctx, entity, "CREATE", "", nil); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err, false, true)
	}
	return nil
}

// UpdateJobExecution implements repository.JobExecutionRepository. The update only
// applies when the stored version still matches jobExecution.Version.
func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"

	originalVersion := jobExecution.Version
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	entity := fromDomainJobExecution(jobExecution)

	rows, err := gormadapter.ExecutorFromContext(ctx, r.db).ExecuteUpdate(ctx, entity, "UPDATE", "",
		map[string]interface{}{"id": jobExecution.ID, "version": originalVersion})
	if err != nil {
		jobExecution.Version = originalVersion
		return exception.NewBatchError(op, fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), err, false, true)
	}
	if rows == 0 {
		jobExecution.Version = originalVersion
		return exception.NewBatchError("repository",
			fmt.Sprintf("JobExecution (ID: %s) with version %d not found for update", jobExecution.ID, originalVersion),
			exception.ErrOptimisticLockingFailure, false, false)
	}
	return nil
}

// FindJobExecutionByID implements repository.JobExecutionRepository.
func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionByID"
	var entity JobExecutionEntity

	err := r.db.WithContext(ctx).Where("id = ?", executionID).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find JobExecution by ID: %s", executionID), err, false, true)
	}
	return r.hydrate(ctx, op, &entity), nil
}

// FindLatestJobExecution implements repository.JobExecutionRepository.
func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, instanceKey string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindLatestJobExecution"
	var entity JobExecutionEntity

	err := r.db.WithContext(ctx).
		Where("instance_key = ?", instanceKey).
		Order("create_time desc").
		Order("restart_count desc").
		Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find latest JobExecution of instance %s", instanceKey), err, false, true)
	}
	return r.hydrate(ctx, op, &entity), nil
}

// hydrate maps entity and attaches its step executions. A failure to load the
// steps is logged and leaves the list empty.
func (r *SQLJobRepository) hydrate(ctx context.Context, op string, entity *JobExecutionEntity) *model.JobExecution {
	je := toDomainJobExecution(entity)
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		logger.Errorf("%s: Failed to load StepExecutions for JobExecution (ID: %s): %v", op, je.ID, err)
		return je
	}
	for _, se := range steps {
		se.JobExecution = je
	}
	je.StepExecutions = steps
	return je
}

// --- StepExecution implementation ---

// SaveStepExecution implements repository.StepExecutionRepository.
func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, se *model.StepExecution) error {
	const op = "SQLJobRepository.SaveStepExecution"
	entity := fromDomainStepExecution(se)

	_, err := gormadapter.ExecutorFromContext(ctx, r.db).ExecuteUpsert(ctx, entity, "", []string{"id"}, stepExecutionColumns)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save StepExecution (ID: %s, Step: %s)", se.ID, se.StepName), err, false, true)
	}
	return nil
}

// FindStepExecutionsByJobExecutionID implements repository.StepExecutionRepository.
func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionsByJobExecutionID"
	var entities []StepExecutionEntity

	err := r.db.WithContext(ctx).
		Where("job_execution_id = ?", jobExecutionID).
		Order("start_time asc").
		Order("step_name asc").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find StepExecutions by JobExecution ID: %s", jobExecutionID), err, false, true)
	}

	steps := make([]*model.StepExecution, len(entities))
	for i := range entities {
		steps[i] = toDomainStepExecution(&entities[i])
	}
	return steps, nil
}

// Close implements repository.JobRepository. The connection is owned by the
// gorm Provider, which closes it on shutdown.
func (r *SQLJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)
