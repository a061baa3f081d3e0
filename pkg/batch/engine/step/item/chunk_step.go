// Package item implements the chunk-oriented step: read a bounded chunk, transform it,
// then write the survivors and advance the checkpoint in one transaction.
package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/core/tx"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/skip"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Config holds the settings of a ChunkStep.
type Config struct {
	// ChunkSize is the maximum number of items read per transaction. Must be at least 1.
	ChunkSize int
	// SkipPolicy judges classified item failures. Nil means skip.Never().
	SkipPolicy skip.Policy
	// RetryPolicy repeats failed reads and chunk transactions. Nil means retry.Never().
	RetryPolicy retry.Policy
	// TxOptions are passed to TransactionManager.Begin for every chunk.
	TxOptions *sql.TxOptions
}

// Dependencies are the services a ChunkStep calls.
type Dependencies struct {
	TxManager   tx.TransactionManager
	Checkpoints port.CheckpointStore
	Hooks       *hook.StepHooks
}

// ChunkStep is a port.Step that runs the chunk loop over a reader, processor and writer.
type ChunkStep[I, O any] struct {
	name        string
	cfg         Config
	reader      port.ItemReader[I]
	processor   port.ItemProcessor[I, O]
	writer      port.ItemWriter[O]
	txManager   tx.TransactionManager
	checkpoints port.CheckpointStore
	hooks       *hook.StepHooks
}

// NewChunkStep validates its arguments and creates a ChunkStep.
func NewChunkStep[I, O any](
	name string,
	cfg Config,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	deps Dependencies,
) (*ChunkStep[I, O], error) {
	const op = "ChunkStep.New"

	switch {
	case name == "":
		return nil, exception.NewBatchError(op, "step name is required", nil, false, false)
	case cfg.ChunkSize < 1:
		return nil, exception.NewBatchError(op, fmt.Sprintf("step '%s': chunk size must be at least 1, got %d", name, cfg.ChunkSize), nil, false, false)
	case reader == nil || processor == nil || writer == nil:
		return nil, exception.NewBatchError(op, fmt.Sprintf("step '%s': reader, processor and writer are required", name), nil, false, false)
	case deps.TxManager == nil || deps.Checkpoints == nil:
		return nil, exception.NewBatchError(op, fmt.Sprintf("step '%s': transaction manager and checkpoint store are required", name), nil, false, false)
	}
	if cfg.SkipPolicy == nil {
		cfg.SkipPolicy = skip.Never()
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = retry.Never()
	}
	return &ChunkStep[I, O]{
		name:        name,
		cfg:         cfg,
		reader:      reader,
		processor:   processor,
		writer:      writer,
		txManager:   deps.TxManager,
		checkpoints: deps.Checkpoints,
		hooks:       deps.Hooks,
	}, nil
}

// StepName implements port.Step.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// Execute implements port.Step.
//
// Cancelling ctx stops the step at the next chunk boundary with status STOPPED; the
// chunk in flight always runs to commit or rollback.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	logger.Infof("ChunkStep '%s' executing.", stepExecution.StepName)

	stepExecution.MarkAsRunning()
	s.hooks.FireBeforeStep(ctx, stepExecution)

	stopped, err := s.run(ctx, stepExecution)
	switch {
	case err != nil:
		stepExecution.MarkAsFailed(err)
	case stopped:
		stepExecution.MarkAsStopped()
	default:
		stepExecution.MarkAsCompleted()
		if markErr := s.markCompleted(context.WithoutCancel(ctx), stepExecution); markErr != nil {
			// The data is committed; only the restart shortcut is lost.
			logger.Warnf("ChunkStep '%s': Failed to save completion marker: %v", stepExecution.StepName, markErr)
		}
	}

	s.hooks.FireAfterStep(ctx, stepExecution)
	logger.Infof("ChunkStep '%s' finished. ExitStatus: %s (read=%d, write=%d, filter=%d, skip=%d, commit=%d, rollback=%d)",
		stepExecution.StepName, stepExecution.ExitStatus,
		stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.FilterCount,
		stepExecution.SkipCount(), stepExecution.CommitCount, stepExecution.RollbackCount)
	return err
}

// run executes the chunk loop. It returns stopped=true when ctx was cancelled between chunks.
func (s *ChunkStep[I, O]) run(ctx context.Context, se *model.StepExecution) (stopped bool, err error) {
	// Chunk I/O must not be interrupted half way, so it runs on a context that ignores cancellation.
	ioCtx := context.WithoutCancel(ctx)
	key := se.CheckpointKey()

	checkpoint, err := s.checkpoints.Load(ioCtx, key)
	if err != nil {
		return false, exception.NewBatchError("checkpoint", fmt.Sprintf("failed to load checkpoint '%s'", key), err, false, false)
	}
	se.RestoreCounters(checkpoint)
	se.ExecutionContext = checkpoint.Copy()
	if done, _ := checkpoint.GetBool(model.ContextKeyCompleted); done {
		logger.Infof("ChunkStep '%s' already completed by a previous execution of this job instance. Skipping.", se.StepName)
		return false, nil
	}
	if len(checkpoint) > 0 {
		logger.Infof("Checkpoint data loaded for step '%s'. Restoring state (read=%d, commit=%d).", se.StepName, se.ReadCount, se.CommitCount)
	}

	if err := s.reader.Open(ioCtx, checkpoint); err != nil {
		return false, exception.NewBatchError("reader", "failed to open reader", err, false, false)
	}
	defer func() {
		if closeErr := s.reader.Close(ioCtx); closeErr != nil {
			logger.Warnf("ChunkStep '%s': Failed to close ItemReader: %v", se.StepName, closeErr)
		}
	}()
	if err := s.writer.Open(ioCtx); err != nil {
		return false, exception.NewBatchError("writer", "failed to open writer", err, false, false)
	}
	defer func() {
		closeErr := s.writer.Close(ioCtx)
		if closeErr == nil {
			return
		}
		logger.Warnf("ChunkStep '%s': Failed to close ItemWriter: %v", se.StepName, closeErr)
		if err == nil && !stopped {
			err = exception.NewBatchError("writer", "failed to close writer", closeErr, false, false)
		}
	}()

	for chunkNo := 1; ; chunkNo++ {
		if ctx.Err() != nil {
			logger.Infof("ChunkStep '%s': Stop requested. Stopping before chunk %d.", se.StepName, chunkNo)
			return true, nil
		}
		exhausted, err := s.processChunk(ctx, ioCtx, se, chunkNo)
		if err != nil {
			return false, err
		}
		if exhausted {
			logger.Debugf("ChunkStep '%s': Reached end of data. Exiting chunk loop.", se.StepName)
			return false, nil
		}
	}
}

// processChunk reads, transforms and writes one chunk.
func (s *ChunkStep[I, O]) processChunk(ctx, ioCtx context.Context, se *model.StepExecution, chunkNo int) (exhausted bool, err error) {
	info := hook.ChunkInfo{Number: chunkNo}
	s.hooks.FireBeforeChunk(ctx, se, info)
	start := time.Now()

	items, exhausted, err := s.readChunk(ioCtx, se)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		// Nothing read since the last commit: the checkpoint is already current.
		return true, nil
	}
	info.Read = len(items)

	survivors, err := s.transformChunk(ioCtx, se, items, &info)
	if err != nil {
		s.rollbackChunk(ctx, se, &info, start)
		return false, err
	}

	if err := s.commitChunk(ioCtx, se, survivors, &info); err != nil {
		s.rollbackChunk(ctx, se, &info, start)
		return false, err
	}

	info.Committed = true
	info.Duration = time.Since(start)
	s.hooks.FireAfterChunk(ctx, se, info)
	return exhausted, nil
}

func (s *ChunkStep[I, O]) rollbackChunk(ctx context.Context, se *model.StepExecution, info *hook.ChunkInfo, start time.Time) {
	se.RollbackCount++
	info.Duration = time.Since(start)
	s.hooks.FireAfterChunk(ctx, se, *info)
}

// readChunk reads up to ChunkSize items. exhausted is true when the reader returned io.EOF.
// A read failing with a retryable error is repeated under the retry policy.
func (s *ChunkStep[I, O]) readChunk(ctx context.Context, se *model.StepExecution) ([]I, bool, error) {
	items := make([]I, 0, s.cfg.ChunkSize)
	for len(items) < s.cfg.ChunkSize {
		it, err := retry.Do(ctx, s.cfg.RetryPolicy, se.StepName+"/read", func() (I, error) {
			return s.reader.Read(ctx)
		})
		if errors.Is(err, io.EOF) {
			return items, true, nil
		}
		if err != nil {
			return nil, false, exception.NewBatchError("reader", "failed to read item", err, false, false)
		}
		se.ReadCount++
		items = append(items, it)
	}
	return items, false, nil
}

// transformChunk applies the processor and the skip policy to every item.
func (s *ChunkStep[I, O]) transformChunk(ctx context.Context, se *model.StepExecution, items []I, info *hook.ChunkInfo) ([]O, error) {
	out := make([]O, 0, len(items))
	for _, it := range items {
		res := s.processor.Process(ctx, it)
		switch res.Outcome {
		case port.OutcomeOk:
			out = append(out, res.Item)
		case port.OutcomeDrop:
			se.FilterCount++
			info.Filtered++
		case port.OutcomeSkip:
			if !s.cfg.SkipPolicy.ShouldSkip(res.Err, se.SkipCount()) {
				return nil, exception.NewBatchError("processor",
					fmt.Sprintf("item failure not skippable (skipped so far: %d)", se.SkipCount()), res.Err, false, false)
			}
			se.ProcessSkipCount++
			info.Skipped++
			logger.Warnf("ChunkStep '%s': Item process skipped (Skip Count: %d): %v", se.StepName, se.SkipCount(), res.Err)
			s.hooks.FireSkip(ctx, se, hook.SkipInProcess, res.Err)
		case port.OutcomeFatal:
			return nil, exception.NewBatchError("processor", "item processing failed", res.Err, false, false)
		default:
			return nil, exception.NewBatchError("processor", fmt.Sprintf("unknown processor outcome %s", res.Outcome), res.Err, false, false)
		}
	}
	return out, nil
}

// commitChunk writes survivors and saves the checkpoint in one transaction. A
// transaction failing with a retryable error is rolled back and run again from
// the same survivors, with the write skips of the failed attempt undone.
func (s *ChunkStep[I, O]) commitChunk(ctx context.Context, se *model.StepExecution, survivors []O, info *hook.ChunkInfo) error {
	writeSkips, skipped := se.WriteSkipCount, info.Skipped
	_, err := retry.Do(ctx, s.cfg.RetryPolicy, se.StepName+"/commit", func() (struct{}, error) {
		se.WriteSkipCount, info.Skipped = writeSkips, skipped
		return struct{}{}, s.commitOnce(ctx, se, survivors, info)
	})
	return err
}

func (s *ChunkStep[I, O]) commitOnce(ctx context.Context, se *model.StepExecution, survivors []O, info *hook.ChunkInfo) error {
	t, err := s.txManager.Begin(ctx, s.cfg.TxOptions)
	if err != nil {
		return exception.NewBatchError("transaction", "failed to begin chunk transaction", err, false, true)
	}
	txCtx := tx.WithTx(ctx, t)

	written, err := s.writeWithSkips(txCtx, t, se, survivors, info)
	if err == nil {
		err = s.saveCheckpoint(txCtx, se, int64(len(written)))
	}
	if err != nil {
		if rbErr := s.txManager.Rollback(t); rbErr != nil {
			logger.Errorf("ChunkStep '%s': Failed to roll back chunk transaction: %v", se.StepName, rbErr)
		}
		return err
	}
	if err := s.txManager.Commit(t); err != nil {
		return exception.NewBatchError("transaction", "failed to commit chunk transaction", err, false, false)
	}

	se.WriteCount += int64(len(written))
	se.CommitCount++
	info.Written = len(written)
	return nil
}

// writeWithSkips writes items. When the writer attributes a failure to one item and
// the policy allows it, the transaction is rolled back to the savepoint taken before
// the attempt and the remaining items are written again.
func (s *ChunkStep[I, O]) writeWithSkips(ctx context.Context, t tx.Tx, se *model.StepExecution, items []O, info *hook.ChunkInfo) ([]O, error) {
	survivors := items
	for attempt := 0; len(survivors) > 0; attempt++ {
		savepoint := fmt.Sprintf("chunk_write_%d", attempt)
		if err := t.Savepoint(savepoint); err != nil {
			return nil, exception.NewBatchError("transaction", "failed to create savepoint", err, false, false)
		}

		writeErr := s.writer.Write(ctx, survivors)
		if writeErr == nil {
			return survivors, nil
		}

		var itemErr *port.ItemWriteError
		if !errors.As(writeErr, &itemErr) || itemErr.Index < 0 || itemErr.Index >= len(survivors) {
			return nil, exception.NewBatchError("writer", "chunk write failed", writeErr, false, false)
		}
		if !s.cfg.SkipPolicy.ShouldSkip(itemErr.Err, se.SkipCount()) {
			return nil, exception.NewBatchError("writer",
				fmt.Sprintf("item write failure not skippable (skipped so far: %d)", se.SkipCount()), itemErr.Err, false, false)
		}
		if err := t.RollbackToSavepoint(savepoint); err != nil {
			return nil, exception.NewBatchError("transaction", "failed to roll back to savepoint", err, false, false)
		}

		se.WriteSkipCount++
		info.Skipped++
		logger.Warnf("ChunkStep '%s': Item write skipped (Skip Count: %d): %v", se.StepName, se.SkipCount(), itemErr.Err)
		s.hooks.FireSkip(ctx, se, hook.SkipInWrite, itemErr.Err)

		next := make([]O, 0, len(survivors)-1)
		next = append(next, survivors[:itemErr.Index]...)
		survivors = append(next, survivors[itemErr.Index+1:]...)
	}
	return survivors, nil
}

// saveCheckpoint stores the reader position and the counters as they will be once
// the current chunk commits.
func (s *ChunkStep[I, O]) saveCheckpoint(ctx context.Context, se *model.StepExecution, written int64) error {
	readerState, err := s.reader.Checkpoint()
	if err != nil {
		return exception.NewBatchError("reader", "failed to capture reader position", err, false, false)
	}
	ec := readerState.Copy()
	pending := *se
	pending.WriteCount += written
	pending.CommitCount++
	pending.PutCounters(ec)

	if err := s.checkpoints.Save(ctx, se.CheckpointKey(), ec); err != nil {
		return exception.NewBatchError("checkpoint", "failed to save checkpoint", err, false, true)
	}
	se.ExecutionContext = ec
	logger.Debugf("Checkpoint data saved for step '%s'. Read: %d, Write: %d", se.StepName, pending.ReadCount, pending.WriteCount)
	return nil
}

// markCompleted records that the step finished so a restart of the same job instance
// does not run it again.
func (s *ChunkStep[I, O]) markCompleted(ctx context.Context, se *model.StepExecution) error {
	ec := se.ExecutionContext.Copy()
	se.PutCounters(ec)
	ec.Put(model.ContextKeyCompleted, true)
	if err := s.checkpoints.Save(ctx, se.CheckpointKey(), ec); err != nil {
		return err
	}
	se.ExecutionContext = ec
	return nil
}

var _ port.Step = (*ChunkStep[any, any])(nil)
