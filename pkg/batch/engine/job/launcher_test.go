package job_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/seekbatch/pkg/batch/component/reader/keyset"
	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/job"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/checkpoint/inmemory"
	repoinmemory "github.com/tigerroll/seekbatch/pkg/batch/infrastructure/repository/inmemory"
)

// scriptedStep finishes with a fixed status and records that it ran.
type scriptedStep struct {
	name   string
	status model.JobStatus
	err    error
	calls  *[]string
}

func (s *scriptedStep) StepName() string { return s.name }

func (s *scriptedStep) Execute(_ context.Context, _ *model.JobExecution, se *model.StepExecution) error {
	*s.calls = append(*s.calls, s.name)
	se.MarkAsRunning()
	switch s.status {
	case model.BatchStatusFailed:
		se.MarkAsFailed(s.err)
		return s.err
	case model.BatchStatusStopped:
		se.MarkAsStopped()
	default:
		se.MarkAsCompleted()
	}
	return nil
}

type fixture struct {
	repo     *repoinmemory.InMemoryJobRepository
	store    *inmemory.Store
	launcher *job.Launcher
	calls    []string
}

func newFixture() *fixture {
	f := &fixture{repo: repoinmemory.NewInMemoryJobRepository(), store: inmemory.NewStore()}
	f.launcher = job.NewLauncher(f.repo, f.store)
	return f
}

func (f *fixture) step(name string, status model.JobStatus, err error) port.Step {
	return &scriptedStep{name: name, status: status, err: err, calls: &f.calls}
}

func params() model.JobParameters {
	return model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"})
}

func TestNew_Validation(t *testing.T) {
	f := newFixture()
	_, err := job.New("", f.step("a", model.BatchStatusCompleted, nil))
	assert.Error(t, err)
	_, err = job.New("j")
	assert.Error(t, err)
	_, err = job.New("j", f.step("a", model.BatchStatusCompleted, nil), f.step("a", model.BatchStatusCompleted, nil))
	assert.Error(t, err)
	_, err = job.New("j", nil)
	assert.Error(t, err)
}

func TestLauncher_RunsStepsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	j, err := job.New("statsJob", f.step("first", model.BatchStatusCompleted, nil), f.step("second", model.BatchStatusCompleted, nil))
	require.NoError(t, err)

	var afterStatus model.JobStatus
	j.AfterJob(func(_ context.Context, je *model.JobExecution) error {
		afterStatus = je.Status
		return nil
	})

	je, err := f.launcher.Run(ctx, j, params())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	assert.Equal(t, []string{"first", "second"}, f.calls)
	assert.Equal(t, model.BatchStatusCompleted, afterStatus)

	stored, err := f.repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	require.Len(t, stored.StepExecutions, 2)
	assert.Equal(t, model.BatchStatusCompleted, stored.StepExecutions[1].Status)
}

func TestLauncher_StopsAtFailedStep(t *testing.T) {
	f := newFixture()
	boom := errors.New("boom")
	j, err := job.New("statsJob",
		f.step("first", model.BatchStatusFailed, boom),
		f.step("second", model.BatchStatusCompleted, nil))
	require.NoError(t, err)

	je, err := f.launcher.Run(context.Background(), j, params())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, []string{"first"}, f.calls)
	assert.NotEmpty(t, je.Failures)
}

func TestLauncher_StoppedStepStopsJob(t *testing.T) {
	f := newFixture()
	j, err := job.New("statsJob",
		f.step("first", model.BatchStatusStopped, nil),
		f.step("second", model.BatchStatusCompleted, nil))
	require.NoError(t, err)

	je, err := f.launcher.Run(context.Background(), j, params())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, []string{"first"}, f.calls)
}

func TestLauncher_BeforeJobErrorFailsWithoutSteps(t *testing.T) {
	f := newFixture()
	j, err := job.New("statsJob", f.step("first", model.BatchStatusCompleted, nil))
	require.NoError(t, err)
	j.BeforeJob(func(context.Context, *model.JobExecution) error {
		return errors.New("no target dates")
	})

	je, err := f.launcher.Run(context.Background(), j, params())
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Empty(t, f.calls)
}

func TestLauncher_CancelledBeforeStartIsStopped(t *testing.T) {
	f := newFixture()
	j, err := job.New("statsJob", f.step("first", model.BatchStatusCompleted, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	je, err := f.launcher.Run(ctx, j, params())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Empty(t, f.calls)

	stored, err := f.repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}

func TestLauncher_RefusesConcurrentInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	j, err := job.New("statsJob", f.step("first", model.BatchStatusCompleted, nil))
	require.NoError(t, err)

	running, err := model.NewJobExecution("statsJob", params())
	require.NoError(t, err)
	running.MarkAsRunning()
	require.NoError(t, f.repo.SaveJobExecution(ctx, running))

	_, err = f.launcher.Run(ctx, j, params())
	assert.ErrorIs(t, err, job.ErrJobAlreadyRunning)
	assert.Empty(t, f.calls)

	f.launcher.AbandonRunning = true
	je, err := f.launcher.Run(ctx, j, params())
	require.NoError(t, err)
	assert.Equal(t, 1, je.RestartCount)

	abandoned, err := f.repo.FindJobExecutionByID(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, abandoned.Status)
}

type payment struct{ ID int64 }

// memorySink publishes written keys when their chunk commits.
type memorySink struct {
	mu        sync.Mutex
	pending   []int64
	committed []int64
}

func (s *memorySink) Open(context.Context) error  { return nil }
func (s *memorySink) Close(context.Context) error { return nil }
func (s *memorySink) Write(_ context.Context, items []payment) error {
	for _, it := range items {
		s.pending = append(s.pending, it.ID)
	}
	return nil
}

func (s *memorySink) hooks() *hook.StepHooks {
	return hook.NewStepHooks().OnAfterChunk(func(_ context.Context, _ *model.StepExecution, c hook.ChunkInfo) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c.Committed {
			s.committed = append(s.committed, s.pending...)
		}
		s.pending = nil
	})
}

func TestLauncher_RestartResumesAndCompletionClearsCheckpoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sink := &memorySink{}
	failOn := int64(7)

	build := func() *job.Job {
		items := make([]payment, 0, 10)
		for i := int64(1); i <= 10; i++ {
			items = append(items, payment{ID: i})
		}
		reader, err := keyset.NewSliceReader("reader", items, func(p payment) int64 { return p.ID })
		require.NoError(t, err)
		proc := port.ProcessorFunc[payment, payment](func(_ context.Context, p payment) port.Result[payment] {
			if p.ID == failOn {
				return port.Fatal[payment](errors.New("bad row"))
			}
			return port.Ok(p)
		})
		step, err := item.NewChunkStep[payment, payment]("copy", item.Config{ChunkSize: 3}, reader, proc, sink, item.Dependencies{
			TxManager:   f.store.TransactionManager(),
			Checkpoints: f.store,
			Hooks:       sink.hooks(),
		})
		require.NoError(t, err)
		j, err := job.New("copyJob", step)
		require.NoError(t, err)
		return j
	}

	first, err := f.launcher.Run(ctx, build(), params())
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, first.Status)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, sink.committed)
	assert.NotEmpty(t, f.store.Keys(), "a failed job keeps its checkpoints")

	failOn = 0
	second, err := f.launcher.Run(ctx, build(), params())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, 1, second.RestartCount)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, sink.committed)
	assert.Empty(t, f.store.Keys(), "a completed job clears its checkpoints")
}

func TestLauncher_RestartInheritsJobExecutionContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	status := model.BatchStatusFailed
	var sawFlag []bool

	build := func() *job.Job {
		j, err := job.New("statsJob", f.step("first", status, errors.New("step failed")))
		require.NoError(t, err)
		j.BeforeJob(func(_ context.Context, je *model.JobExecution) error {
			done, _ := je.ExecutionContext.GetBool("prepared")
			sawFlag = append(sawFlag, done)
			je.ExecutionContext.Put("prepared", true)
			return nil
		})
		return j
	}

	first, err := f.launcher.Run(ctx, build(), params())
	require.Error(t, err)
	stored, err := f.repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	prepared, _ := stored.ExecutionContext.GetBool("prepared")
	assert.True(t, prepared, "a failed execution keeps its job context")

	status = model.BatchStatusCompleted
	second, err := f.launcher.Run(ctx, build(), params())
	require.NoError(t, err)
	assert.Equal(t, 1, second.RestartCount)
	assert.Equal(t, []bool{false, true}, sawFlag)
}
