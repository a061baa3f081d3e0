package sql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm/sqlite"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	sqlrepo "github.com/tigerroll/seekbatch/pkg/batch/infrastructure/repository/sql"
)

func setupSQLiteRepository(t *testing.T) *sqlrepo.SQLJobRepository {
	t.Helper()
	db, err := gormadapter.Open(dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	repo := sqlrepo.NewSQLJobRepository(db)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func newJobExecution(t *testing.T, date string) *model.JobExecution {
	t.Helper()
	je, err := model.NewJobExecution("paymentStatisticsJob", model.NewJobParameters(map[string]interface{}{"paymentDate": date}))
	require.NoError(t, err)
	return je
}

func TestSQLJobRepository_SaveUpdateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepository(t)

	je := newJobExecution(t, "2025-01-05")
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	je.MarkAsRunning()
	se := model.NewStepExecution(je, "dailyStatistics")
	se.MarkAsRunning()
	se.ReadCount, se.WriteCount, se.ProcessSkipCount, se.CommitCount = 10, 8, 2, 3
	se.ExecutionContext.Put("reader.lastKey", int64(10))
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	se.MarkAsCompleted()
	require.NoError(t, repo.SaveStepExecution(ctx, se), "saving a step again replaces it")

	je.MarkAsCompleted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	found, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, found.Status)
	assert.Equal(t, model.ExitStatusCompletedWithSkip, found.ExitStatus)
	assert.Equal(t, je.InstanceKey, found.InstanceKey)
	date, ok := found.Parameters.GetString("paymentDate")
	assert.True(t, ok)
	assert.Equal(t, "2025-01-05", date)

	require.Len(t, found.StepExecutions, 1)
	step := found.StepExecutions[0]
	assert.Equal(t, "dailyStatistics", step.StepName)
	assert.Equal(t, model.ExitStatusCompletedWithSkip, step.ExitStatus)
	assert.Equal(t, int64(10), step.ReadCount)
	assert.Equal(t, int64(2), step.ProcessSkipCount)
	lastKey, _ := step.ExecutionContext.GetInt64("reader.lastKey")
	assert.Equal(t, int64(10), lastKey)
}

func TestSQLJobRepository_UpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepository(t)

	je := newJobExecution(t, "2025-01-05")
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	stale.Version = 0

	err = repo.UpdateJobExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrOptimisticLockingFailure))
	assert.Equal(t, 0, stale.Version, "a rejected update keeps the caller's version")
}

func TestSQLJobRepository_FindLatestJobExecution(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepository(t)

	_, err := repo.FindLatestJobExecution(ctx, "missing#0000")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)

	first := newJobExecution(t, "2025-01-05")
	first.MarkAsFailed(errors.New("boom"))
	require.NoError(t, repo.SaveJobExecution(ctx, first))

	second := newJobExecution(t, "2025-01-05")
	second.CreateTime = first.CreateTime.Add(time.Second)
	second.RestartCount = 1
	require.NoError(t, repo.SaveJobExecution(ctx, second))

	other := newJobExecution(t, "2025-01-06")
	other.CreateTime = first.CreateTime.Add(time.Minute)
	require.NoError(t, repo.SaveJobExecution(ctx, other))

	latest, err := repo.FindLatestJobExecution(ctx, first.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 1, latest.RestartCount)

	_, err = repo.FindJobExecutionByID(ctx, "no-such-id")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}
