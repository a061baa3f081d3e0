package model

import (
	"time"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Keys under which step counters are checkpointed next to the reader state.
const (
	ContextKeyReadCount        = "step.readCount"
	ContextKeyWriteCount       = "step.writeCount"
	ContextKeyFilterCount      = "step.filterCount"
	ContextKeyProcessSkipCount = "step.processSkipCount"
	ContextKeyWriteSkipCount   = "step.writeSkipCount"
	ContextKeyCommitCount      = "step.commitCount"
	ContextKeyRollbackCount    = "step.rollbackCount"
	ContextKeyCompleted        = "step.completed"
)

// StepExecution is one step (or one partition) within a JobExecution.
// Only the engine running the step mutates its counters.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecutionID   string
	JobExecution     *JobExecution
	Status           JobStatus
	ExitStatus       ExitStatus
	ExitDescription  string
	StartTime        time.Time
	EndTime          *time.Time
	ReadCount        int64
	WriteCount       int64
	FilterCount      int64
	ProcessSkipCount int64
	WriteSkipCount   int64
	CommitCount      int64
	RollbackCount    int64
	Failures         FailureList
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution creates a StepExecution for stepName and registers it with jobExecution.
func NewStepExecution(jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		JobExecution:     jobExecution,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		StartTime:        now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		ExecutionContext: NewExecutionContext(),
	}
	if jobExecution != nil {
		se.JobExecutionID = jobExecution.ID
		jobExecution.AddStepExecution(se)
	}
	return se
}

// CheckpointKey is the stable identity under which this step's checkpoint is stored:
// the job instance key followed by the step name.
func (se *StepExecution) CheckpointKey() string {
	if se.JobExecution == nil {
		return se.StepName
	}
	return CheckpointKey(se.JobExecution.InstanceKey, se.StepName)
}

// CheckpointKey joins a job instance key and a step name.
func CheckpointKey(instanceKey, stepName string) string {
	return instanceKey + "/" + stepName
}

// SkipCount is the total number of skipped items.
func (se *StepExecution) SkipCount() int64 {
	return se.ProcessSkipCount + se.WriteSkipCount
}

// TransitionTo moves the step to newStatus, rejecting any transition out of a terminal status.
func (se *StepExecution) TransitionTo(newStatus JobStatus) error {
	if err := checkTransition(se.Status, newStatus); err != nil {
		return err
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	if newStatus.IsFinished() {
		end := se.LastUpdated
		se.EndTime = &end
	}
	return nil
}

// MarkAsRunning moves the step to RUNNING.
func (se *StepExecution) MarkAsRunning() {
	if err := se.TransitionTo(BatchStatusRunning); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to RUNNING: %v", se.ID, err)
		return
	}
	se.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted moves the step to COMPLETED, with exit status COMPLETED_WITH_SKIPS
// when any item was skipped.
func (se *StepExecution) MarkAsCompleted() {
	if err := se.TransitionTo(BatchStatusCompleted); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to COMPLETED: %v", se.ID, err)
		return
	}
	se.ExitStatus = ExitStatusCompleted
	if se.SkipCount() > 0 {
		se.ExitStatus = ExitStatusCompletedWithSkip
	}
}

// MarkAsFailed moves the step to FAILED and records err with its classification.
func (se *StepExecution) MarkAsFailed(err error) {
	if terr := se.TransitionTo(BatchStatusFailed); terr != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to FAILED: %v", se.ID, terr)
		return
	}
	se.ExitStatus = ExitStatusFailed
	if err != nil {
		se.ExitDescription = exception.Classification(err) + ": " + err.Error()
		se.AddFailureException(err)
	}
}

// MarkAsStopped moves the step to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	if err := se.TransitionTo(BatchStatusStopped); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to STOPPED: %v", se.ID, err)
		return
	}
	se.ExitStatus = ExitStatusStopped
}

// AddFailureException records err, ignoring duplicate messages.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	msg := exception.Classification(err) + ": " + exception.ExtractErrorMessage(err)
	if se.Failures.contains(msg) {
		return
	}
	se.Failures = append(se.Failures, msg)
	se.LastUpdated = time.Now()
}

// PutCounters writes the counters into ec so a restart can restore them.
func (se *StepExecution) PutCounters(ec ExecutionContext) {
	ec.Put(ContextKeyReadCount, se.ReadCount)
	ec.Put(ContextKeyWriteCount, se.WriteCount)
	ec.Put(ContextKeyFilterCount, se.FilterCount)
	ec.Put(ContextKeyProcessSkipCount, se.ProcessSkipCount)
	ec.Put(ContextKeyWriteSkipCount, se.WriteSkipCount)
	ec.Put(ContextKeyCommitCount, se.CommitCount)
	ec.Put(ContextKeyRollbackCount, se.RollbackCount)
}

// RestoreCounters reads counters written by PutCounters. Missing keys leave the counter unchanged.
func (se *StepExecution) RestoreCounters(ec ExecutionContext) {
	restore := func(key string, dst *int64) {
		if v, ok := ec.GetInt64(key); ok {
			*dst = v
		}
	}
	restore(ContextKeyReadCount, &se.ReadCount)
	restore(ContextKeyWriteCount, &se.WriteCount)
	restore(ContextKeyFilterCount, &se.FilterCount)
	restore(ContextKeyProcessSkipCount, &se.ProcessSkipCount)
	restore(ContextKeyWriteSkipCount, &se.WriteSkipCount)
	restore(ContextKeyCommitCount, &se.CommitCount)
	restore(ContextKeyRollbackCount, &se.RollbackCount)
}

// Accumulate adds other's counters to se.
func (se *StepExecution) Accumulate(other *StepExecution) {
	se.ReadCount += other.ReadCount
	se.WriteCount += other.WriteCount
	se.FilterCount += other.FilterCount
	se.ProcessSkipCount += other.ProcessSkipCount
	se.WriteSkipCount += other.WriteSkipCount
	se.CommitCount += other.CommitCount
	se.RollbackCount += other.RollbackCount
}
