package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/seekbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/repository/inmemory"
)

func TestSimpleJobExplorer(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	explorer := NewSimpleJobExplorer(repo)
	params := model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"})

	last, err := explorer.GetLastJobExecution(ctx, "paymentStatisticsDailyJob", params)
	require.NoError(t, err)
	assert.Nil(t, last)

	je, err := model.NewJobExecution("paymentStatisticsDailyJob", params)
	require.NoError(t, err)
	je.MarkAsRunning()
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := model.NewStepExecution(je, "dailyStatistics")
	se.ReadCount = 3
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	je.MarkAsFailed(errors.New("boom"))
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	last, err = explorer.GetLastJobExecution(ctx, "paymentStatisticsDailyJob", params)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, je.ID, last.ID)
	assert.Equal(t, model.BatchStatusFailed, last.Status)

	got, err := explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, got.StepExecutions, 1)
	assert.Equal(t, int64(3), got.StepExecutions[0].ReadCount)

	_, err = explorer.GetJobExecution(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestNextRunParameters(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	explorer := NewSimpleJobExplorer(repo)
	inc := incrementer.NewRunIDIncrementer("")
	base := model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"})

	record := func(params model.JobParameters, status model.JobStatus) {
		je, err := model.NewJobExecution("paymentReportJob", params)
		require.NoError(t, err)
		je.MarkAsRunning()
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		switch status {
		case model.BatchStatusCompleted:
			je.MarkAsCompleted()
		case model.BatchStatusFailed:
			je.MarkAsFailed(errors.New("boom"))
		}
		require.NoError(t, repo.UpdateJobExecution(ctx, je))
	}
	runID := func(p model.JobParameters) int64 {
		id, ok := p.GetInt64("run.id")
		require.True(t, ok)
		return id
	}

	params, last, err := NextRunParameters(ctx, explorer, "paymentReportJob", base, inc)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Equal(t, int64(1), runID(params))

	record(params, model.BatchStatusCompleted)
	params, last, err = NextRunParameters(ctx, explorer, "paymentReportJob", base, inc)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Equal(t, int64(2), runID(params), "a completed run starts the next instance")

	record(params, model.BatchStatusFailed)
	params, last, err = NextRunParameters(ctx, explorer, "paymentReportJob", base, inc)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, model.BatchStatusFailed, last.Status)
	assert.Equal(t, int64(2), runID(params), "a failed run is resumed")

	date, _ := params.GetString("paymentDate")
	assert.Equal(t, "2025-01-05", date)
}
