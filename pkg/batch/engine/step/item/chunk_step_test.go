package item

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/skip"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/checkpoint/inmemory"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

var errBadItem = errors.New("bad item")

// keyReader reads ascending int keys and checkpoints the last key it returned.
type keyReader struct {
	keys     []int
	pos      int
	lastKey  int
	failAt   int
	opened   bool
	openedAt int
	// retryableFailures makes the failure at failAt transient: it is reported
	// that many times as retryable, then the key reads normally.
	retryableFailures int
}

func newKeyReader(n int) *keyReader {
	keys := make([]int, n)
	for i := range keys {
		keys[i] = i + 1
	}
	return &keyReader{keys: keys}
}

func (r *keyReader) Open(_ context.Context, checkpoint model.ExecutionContext) error {
	r.opened = true
	if last, ok := checkpoint.GetInt("test.lastKey"); ok {
		r.lastKey = last
		r.openedAt = last
		for r.pos < len(r.keys) && r.keys[r.pos] <= last {
			r.pos++
		}
	}
	return nil
}

func (r *keyReader) Read(_ context.Context) (int, error) {
	if r.pos >= len(r.keys) {
		return 0, io.EOF
	}
	k := r.keys[r.pos]
	if k == r.failAt {
		if r.retryableFailures == 0 {
			return 0, fmt.Errorf("connection reset while reading key %d", k)
		}
		r.retryableFailures--
		if r.retryableFailures == 0 {
			r.failAt = 0
		}
		return 0, exception.NewBatchError("reader", fmt.Sprintf("connection reset while reading key %d", k), nil, false, true)
	}
	r.pos++
	r.lastKey = k
	return k, nil
}

func (r *keyReader) Checkpoint() (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put("test.lastKey", r.lastKey)
	return ec, nil
}

func (r *keyReader) Close(context.Context) error { return nil }

// sinkWriter publishes written items only when the chunk commits.
type sinkWriter struct {
	failOn    int
	fatal     error
	writes    int
	pending   []int
	committed []int
}

func (w *sinkWriter) Open(context.Context) error { return nil }

func (w *sinkWriter) Write(_ context.Context, items []int) error {
	w.writes++
	if w.fatal != nil {
		return w.fatal
	}
	for i, v := range items {
		if v == w.failOn {
			return &port.ItemWriteError{Index: i, Err: errBadItem}
		}
	}
	// One successful Write per transaction attempt; a retried attempt replaces it.
	w.pending = append([]int(nil), items...)
	return nil
}

func (w *sinkWriter) Close(context.Context) error { return nil }

func (w *sinkWriter) hooks() *hook.StepHooks {
	return hook.NewStepHooks().OnAfterChunk(func(_ context.Context, _ *model.StepExecution, c hook.ChunkInfo) {
		if c.Committed {
			w.committed = append(w.committed, w.pending...)
		}
		w.pending = nil
	})
}

func newJobExecution(t *testing.T) *model.JobExecution {
	t.Helper()
	je, err := model.NewJobExecution("chunkTestJob", model.NewJobParameters(map[string]interface{}{"run": "1"}))
	require.NoError(t, err)
	return je
}

func newTestStep(t *testing.T, chunkSize int, policy skip.Policy, r port.ItemReader[int], p port.ItemProcessor[int, int], w *sinkWriter, store *inmemory.Store, extra *hook.StepHooks) *ChunkStep[int, int] {
	t.Helper()
	step, err := NewChunkStep[int, int]("chunkTestStep", Config{ChunkSize: chunkSize, SkipPolicy: policy}, r, p, w, Dependencies{
		TxManager:   store.TransactionManager(),
		Checkpoints: store,
		Hooks:       w.hooks().Merge(extra),
	})
	require.NoError(t, err)
	return step
}

func execute(t *testing.T, ctx context.Context, step *ChunkStep[int, int]) (*model.StepExecution, error) {
	t.Helper()
	je := newJobExecution(t)
	se := model.NewStepExecution(je, step.StepName())
	return se, step.Execute(ctx, je, se)
}

func seq(from, to int, exclude ...int) []int {
	skipped := make(map[int]bool, len(exclude))
	for _, e := range exclude {
		skipped[e] = true
	}
	var out []int
	for i := from; i <= to; i++ {
		if !skipped[i] {
			out = append(out, i)
		}
	}
	return out
}

func TestNewChunkStep_Validation(t *testing.T) {
	store := inmemory.NewStore()
	deps := Dependencies{TxManager: store.TransactionManager(), Checkpoints: store}

	_, err := NewChunkStep[int, int]("s", Config{ChunkSize: 0}, newKeyReader(1), port.PassThrough[int](), &sinkWriter{}, deps)
	assert.Error(t, err)

	_, err = NewChunkStep[int, int]("", Config{ChunkSize: 1}, newKeyReader(1), port.PassThrough[int](), &sinkWriter{}, deps)
	assert.Error(t, err)

	_, err = NewChunkStep[int, int]("s", Config{ChunkSize: 1}, newKeyReader(1), port.PassThrough[int](), &sinkWriter{}, Dependencies{})
	assert.Error(t, err)
}

func TestChunkStep_CountersAreConservedForAnyChunkSize(t *testing.T) {
	filterAndSkip := port.ProcessorFunc[int, int](func(_ context.Context, v int) port.Result[int] {
		switch {
		case v%5 == 0:
			return port.Drop[int]()
		case v == 13 || v == 17:
			return port.Skip[int](errBadItem)
		}
		return port.Ok(v)
	})

	for _, size := range []int{1, 3, 7, 100} {
		t.Run(fmt.Sprintf("chunk size %d", size), func(t *testing.T) {
			w := &sinkWriter{}
			step := newTestStep(t, size, skip.Limit(5, errBadItem), newKeyReader(25), filterAndSkip, w, inmemory.NewStore(), nil)

			se, err := execute(t, context.Background(), step)
			require.NoError(t, err)

			assert.Equal(t, model.BatchStatusCompleted, se.Status)
			assert.Equal(t, model.ExitStatusCompletedWithSkip, se.ExitStatus)
			assert.Equal(t, int64(25), se.ReadCount)
			assert.Equal(t, int64(5), se.FilterCount)
			assert.Equal(t, int64(2), se.ProcessSkipCount)
			assert.Equal(t, int64(18), se.WriteCount)
			assert.Equal(t, se.ReadCount, se.WriteCount+se.FilterCount+se.SkipCount())
			assert.Equal(t, int64((25+size-1)/size), se.CommitCount)
			assert.Equal(t, seq(1, 25, 5, 10, 13, 15, 17, 20, 25), w.committed)
		})
	}
}

func TestChunkStep_RestartResumesAfterLastCommittedKey(t *testing.T) {
	store := inmemory.NewStore()

	failing := newKeyReader(25)
	failing.failAt = 14
	w := &sinkWriter{}
	step := newTestStep(t, 5, nil, failing, port.PassThrough[int](), w, store, nil)

	se, err := execute(t, context.Background(), step)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Contains(t, se.Failures[0], "reader: ")
	assert.Equal(t, seq(1, 10), w.committed)

	resumed := newKeyReader(25)
	step = newTestStep(t, 5, nil, resumed, port.PassThrough[int](), w, store, nil)
	se, err = execute(t, context.Background(), step)
	require.NoError(t, err)

	assert.Equal(t, 10, resumed.openedAt)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, seq(1, 25), w.committed, "every key is written exactly once across both executions")
	assert.Equal(t, int64(25), se.ReadCount)
	assert.Equal(t, int64(25), se.WriteCount)
	assert.Equal(t, int64(5), se.CommitCount)
}

func TestChunkStep_CompletedStepIsNotRunAgain(t *testing.T) {
	store := inmemory.NewStore()
	w := &sinkWriter{}
	_, err := execute(t, context.Background(), newTestStep(t, 4, nil, newKeyReader(10), port.PassThrough[int](), w, store, nil))
	require.NoError(t, err)

	again := newKeyReader(10)
	se, err := execute(t, context.Background(), newTestStep(t, 4, nil, again, port.PassThrough[int](), w, store, nil))
	require.NoError(t, err)

	assert.False(t, again.opened)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, int64(10), se.WriteCount)
	assert.Equal(t, seq(1, 10), w.committed)
}

func TestChunkStep_SkipLimit(t *testing.T) {
	skipEven := port.ProcessorFunc[int, int](func(_ context.Context, v int) port.Result[int] {
		if v%2 == 0 {
			return port.Skip[int](errBadItem)
		}
		return port.Ok(v)
	})

	t.Run("limit exceeded fails the step", func(t *testing.T) {
		w := &sinkWriter{}
		var skips []hook.SkipPhase
		extra := hook.NewStepHooks().OnSkip(func(_ context.Context, _ *model.StepExecution, phase hook.SkipPhase, _ error) {
			skips = append(skips, phase)
		})
		step := newTestStep(t, 3, skip.Limit(2, errBadItem), newKeyReader(10), skipEven, w, inmemory.NewStore(), extra)

		se, err := execute(t, context.Background(), step)
		require.Error(t, err)
		assert.ErrorIs(t, err, errBadItem)
		assert.Equal(t, model.BatchStatusFailed, se.Status)
		assert.Equal(t, []int{1, 3}, w.committed)
		assert.Equal(t, int64(1), se.CommitCount)
		assert.Equal(t, int64(1), se.RollbackCount)
		assert.Equal(t, []hook.SkipPhase{hook.SkipInProcess, hook.SkipInProcess}, skips)
	})

	t.Run("within limit completes with skips", func(t *testing.T) {
		w := &sinkWriter{}
		step := newTestStep(t, 3, skip.Limit(5, errBadItem), newKeyReader(10), skipEven, w, inmemory.NewStore(), nil)

		se, err := execute(t, context.Background(), step)
		require.NoError(t, err)
		assert.Equal(t, model.ExitStatusCompletedWithSkip, se.ExitStatus)
		assert.Equal(t, int64(5), se.ProcessSkipCount)
		assert.Equal(t, []int{1, 3, 5, 7, 9}, w.committed)
	})

	t.Run("unclassified error is never skipped", func(t *testing.T) {
		w := &sinkWriter{}
		p := port.ProcessorFunc[int, int](func(_ context.Context, v int) port.Result[int] {
			if v == 2 {
				return port.Skip[int](errors.New("something else"))
			}
			return port.Ok(v)
		})
		step := newTestStep(t, 3, skip.Limit(5, errBadItem), newKeyReader(10), p, w, inmemory.NewStore(), nil)

		se, err := execute(t, context.Background(), step)
		require.Error(t, err)
		assert.Equal(t, model.BatchStatusFailed, se.Status)
		assert.Empty(t, w.committed)
	})
}

func TestChunkStep_WriteSkipRewritesSurvivors(t *testing.T) {
	w := &sinkWriter{failOn: 7}
	step := newTestStep(t, 5, skip.Limit(1, errBadItem), newKeyReader(10), port.PassThrough[int](), w, inmemory.NewStore(), nil)

	se, err := execute(t, context.Background(), step)
	require.NoError(t, err)

	assert.Equal(t, model.ExitStatusCompletedWithSkip, se.ExitStatus)
	assert.Equal(t, int64(1), se.WriteSkipCount)
	assert.Equal(t, int64(9), se.WriteCount)
	assert.Equal(t, seq(1, 10, 7), w.committed)
	assert.Equal(t, 3, w.writes)
}

func TestChunkStep_UnattributedWriteErrorRollsBack(t *testing.T) {
	store := inmemory.NewStore()
	w := &sinkWriter{fatal: errors.New("deadlock detected")}
	step := newTestStep(t, 5, skip.Always(), newKeyReader(10), port.PassThrough[int](), w, store, nil)

	se, err := execute(t, context.Background(), step)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(1), se.RollbackCount)
	assert.Equal(t, int64(0), se.WriteCount)
	assert.Empty(t, w.committed)

	cp, err := store.Load(context.Background(), se.CheckpointKey())
	require.NoError(t, err)
	assert.Empty(t, cp)
}

func TestChunkStep_CheckpointFailureRollsBackChunk(t *testing.T) {
	store := inmemory.NewStore()
	store.FailNextSave = errors.New("checkpoint table locked")
	w := &sinkWriter{}
	step := newTestStep(t, 5, nil, newKeyReader(10), port.PassThrough[int](), w, store, nil)

	se, err := execute(t, context.Background(), step)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Contains(t, se.ExitDescription, "checkpoint")
	assert.Empty(t, w.committed)
	assert.Equal(t, int64(0), se.CommitCount)
}

func TestChunkStep_StopsBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := inmemory.NewStore()
	w := &sinkWriter{}
	extra := hook.NewStepHooks().OnAfterChunk(func(_ context.Context, _ *model.StepExecution, c hook.ChunkInfo) {
		if c.Number == 2 {
			cancel()
		}
	})
	step := newTestStep(t, 5, nil, newKeyReader(25), port.PassThrough[int](), w, store, extra)

	se, err := execute(t, ctx, step)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, model.ExitStatusStopped, se.ExitStatus)
	assert.Equal(t, seq(1, 10), w.committed)

	cp, err := store.Load(context.Background(), se.CheckpointKey())
	require.NoError(t, err)
	lastKey, _ := cp.GetInt64("test.lastKey")
	assert.Equal(t, int64(10), lastKey)
	_, completed := cp.GetBool(model.ContextKeyCompleted)
	assert.False(t, completed)
}

func newRetryingStep(t *testing.T, cfg Config, r port.ItemReader[int], w *sinkWriter, store *inmemory.Store) *ChunkStep[int, int] {
	t.Helper()
	step, err := NewChunkStep[int, int]("chunkTestStep", cfg, r, port.PassThrough[int](), w, Dependencies{
		TxManager:   store.TransactionManager(),
		Checkpoints: store,
		Hooks:       w.hooks(),
	})
	require.NoError(t, err)
	return step
}

func TestChunkStep_RetriesTransientReadFailure(t *testing.T) {
	t.Run("recovers within the attempt limit", func(t *testing.T) {
		r := newKeyReader(10)
		r.failAt, r.retryableFailures = 7, 2
		w := &sinkWriter{}
		step := newRetryingStep(t, Config{ChunkSize: 4, RetryPolicy: retry.NewPolicy(3, 0)}, r, w, inmemory.NewStore())

		se, err := execute(t, context.Background(), step)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, se.Status)
		assert.Equal(t, int64(10), se.ReadCount)
		assert.Equal(t, int64(0), se.RollbackCount)
		assert.Equal(t, seq(1, 10), w.committed)
	})

	t.Run("fails once attempts are used up", func(t *testing.T) {
		r := newKeyReader(10)
		r.failAt, r.retryableFailures = 7, 3
		w := &sinkWriter{}
		step := newRetryingStep(t, Config{ChunkSize: 4, RetryPolicy: retry.NewPolicy(3, 0)}, r, w, inmemory.NewStore())

		se, err := execute(t, context.Background(), step)
		require.Error(t, err)
		assert.True(t, exception.IsRetryable(err))
		assert.Equal(t, model.BatchStatusFailed, se.Status)
		assert.Equal(t, seq(1, 4), w.committed)
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		r := newKeyReader(10)
		r.failAt = 7
		w := &sinkWriter{}
		step := newRetryingStep(t, Config{ChunkSize: 4, RetryPolicy: retry.NewPolicy(5, 0)}, r, w, inmemory.NewStore())

		_, err := execute(t, context.Background(), step)
		require.Error(t, err)
		assert.False(t, exception.IsRetryable(err))
	})
}

func TestChunkStep_RetriesChunkTransaction(t *testing.T) {
	store := inmemory.NewStore()
	store.FailNextSave = errors.New("checkpoint table locked")
	w := &sinkWriter{failOn: 3}
	step := newRetryingStep(t, Config{
		ChunkSize:   5,
		SkipPolicy:  skip.Limit(1, errBadItem),
		RetryPolicy: retry.NewPolicy(2, 0),
	}, newKeyReader(10), w, store)

	se, err := execute(t, context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusCompletedWithSkip, se.ExitStatus)
	assert.Equal(t, int64(1), se.WriteSkipCount, "the skip of the rolled back attempt is not counted twice")
	assert.Equal(t, int64(9), se.WriteCount)
	assert.Equal(t, int64(2), se.CommitCount)
	assert.Equal(t, int64(0), se.RollbackCount)
	assert.Equal(t, seq(1, 10, 3), w.committed)
}
