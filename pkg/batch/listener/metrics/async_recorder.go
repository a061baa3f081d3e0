package metrics

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// MetricEvent is a metric call queued by AsyncMetricRecorder.
type MetricEvent struct {
	Type          string
	JobExecution  *model.JobExecution
	StepExecution *model.StepExecution
	StepName      string
	Count         int
	Phase         string
	Reason        string
	Duration      time.Duration
	Tags          map[string]string
}

// Metric event types.
const (
	MetricEventTypeJobStart       = "job_start"
	MetricEventTypeJobEnd         = "job_end"
	MetricEventTypeStepStart      = "step_start"
	MetricEventTypeStepEnd        = "step_end"
	MetricEventTypeItemRead       = "item_read"
	MetricEventTypeItemWrite      = "item_write"
	MetricEventTypeItemSkip       = "item_skip"
	MetricEventTypeChunkCommit    = "chunk_commit"
	MetricEventTypeChunkRollback  = "chunk_rollback"
	MetricEventTypeRecordDuration = "record_duration"
)

// AsyncMetricRecorder queues metric calls and replays them on a single goroutine
// against a synchronous recorder. Executions are snapshotted when queued, so the
// worker never reads an execution the engine is still mutating. Events arriving
// while the queue is full are dropped with a warning.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder starts the worker goroutine. A bufferSize of 0 or less uses 100.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeJobStart:
		r.syncRecorder.RecordJobStart(ctx, event.JobExecution)
	case MetricEventTypeJobEnd:
		r.syncRecorder.RecordJobEnd(ctx, event.JobExecution)
	case MetricEventTypeStepStart:
		r.syncRecorder.RecordStepStart(ctx, event.StepExecution)
	case MetricEventTypeStepEnd:
		r.syncRecorder.RecordStepEnd(ctx, event.StepExecution)
	case MetricEventTypeItemRead:
		r.syncRecorder.RecordItemRead(ctx, event.StepName, event.Count)
	case MetricEventTypeItemWrite:
		r.syncRecorder.RecordItemWrite(ctx, event.StepName, event.Count)
	case MetricEventTypeItemSkip:
		r.syncRecorder.RecordItemSkip(ctx, event.StepName, event.Phase, event.Reason)
	case MetricEventTypeChunkCommit:
		r.syncRecorder.RecordChunkCommit(ctx, event.StepName, event.Count)
	case MetricEventTypeChunkRollback:
		r.syncRecorder.RecordChunkRollback(ctx, event.StepName)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.StepName, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the worker after it drained the queue. It is safe to call more than once.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *AsyncMetricRecorder) sendEvent(event MetricEvent, id string) {
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s, ID: %s). Event discarded.", event.Type, id)
	}
}

func snapshotJob(je *model.JobExecution) *model.JobExecution {
	return &model.JobExecution{
		ID:           je.ID,
		JobName:      je.JobName,
		InstanceKey:  je.InstanceKey,
		Status:       je.Status,
		ExitStatus:   je.ExitStatus,
		StartTime:    je.StartTime,
		EndTime:      je.EndTime,
		Failures:     append(model.FailureList(nil), je.Failures...),
		RestartCount: je.RestartCount,
	}
}

func snapshotStep(se *model.StepExecution) *model.StepExecution {
	snap := &model.StepExecution{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		ExitDescription:  se.ExitDescription,
		StartTime:        se.StartTime,
		EndTime:          se.EndTime,
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		FilterCount:      se.FilterCount,
		ProcessSkipCount: se.ProcessSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
	}
	if se.JobExecution != nil {
		snap.JobExecution = &model.JobExecution{ID: se.JobExecution.ID, JobName: se.JobExecution.JobName}
	}
	return snap
}

// RecordJobStart implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordJobStart(_ context.Context, execution *model.JobExecution) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobStart, JobExecution: snapshotJob(execution)}, execution.ID)
}

// RecordJobEnd implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordJobEnd(_ context.Context, execution *model.JobExecution) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeJobEnd, JobExecution: snapshotJob(execution)}, execution.ID)
}

// RecordStepStart implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordStepStart(_ context.Context, execution *model.StepExecution) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeStepStart, StepExecution: snapshotStep(execution)}, execution.ID)
}

// RecordStepEnd implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordStepEnd(_ context.Context, execution *model.StepExecution) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeStepEnd, StepExecution: snapshotStep(execution)}, execution.ID)
}

// RecordItemRead implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordItemRead(_ context.Context, stepName string, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItemRead, StepName: stepName, Count: count}, stepName)
}

// RecordItemWrite implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordItemWrite(_ context.Context, stepName string, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItemWrite, StepName: stepName, Count: count}, stepName)
}

// RecordItemSkip implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordItemSkip(_ context.Context, stepName string, phase string, reason string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItemSkip, StepName: stepName, Phase: phase, Reason: reason}, stepName)
}

// RecordChunkCommit implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordChunkCommit(_ context.Context, stepName string, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeChunkCommit, StepName: stepName, Count: count}, stepName)
}

// RecordChunkRollback implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordChunkRollback(_ context.Context, stepName string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeChunkRollback, StepName: stepName}, stepName)
}

// RecordDuration implements metrics.MetricRecorder.
func (r *AsyncMetricRecorder) RecordDuration(_ context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordDuration, StepName: name, Duration: duration, Tags: tags}, name)
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
