package listener

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/job"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/checkpoint/inmemory"
	repoinmemory "github.com/tigerroll/seekbatch/pkg/batch/infrastructure/repository/inmemory"
)

type doneStep struct{}

func (doneStep) StepName() string { return "only" }

func (doneStep) Execute(_ context.Context, _ *model.JobExecution, se *model.StepExecution) error {
	se.MarkAsRunning()
	se.MarkAsCompleted()
	return nil
}

type statusNotifier struct{ statuses []model.JobStatus }

func (n *statusNotifier) NotifyJobCompletion(_ context.Context, je *model.JobExecution) error {
	n.statuses = append(n.statuses, je.Status)
	return nil
}

func TestObservers_AttachNotifiesAfterJob(t *testing.T) {
	notifier := &statusNotifier{}
	obs := NewObservers(coremetrics.NewNoOpMetricRecorder(), coremetrics.NewNoOpTracer(), notifier)
	require.NotNil(t, obs.StepHooks())

	j, err := job.New("observedJob", doneStep{})
	require.NoError(t, err)
	obs.Attach(j)

	launcher := job.NewLauncher(repoinmemory.NewInMemoryJobRepository(), inmemory.NewStore())
	je, err := launcher.Run(context.Background(), j, model.NewJobParameters(map[string]interface{}{"run": "1"}))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, []model.JobStatus{model.BatchStatusCompleted}, notifier.statuses)
}
