package model

import (
	"sync"
	"time"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// JobExecution is one run of a named job.
// Its terminal status is set exactly once; later Mark* calls are refused.
type JobExecution struct {
	ID               string
	JobName          string
	InstanceKey      string
	Parameters       JobParameters
	Status           JobStatus
	ExitStatus       ExitStatus
	StartTime        time.Time
	EndTime          *time.Time
	CreateTime       time.Time
	LastUpdated      time.Time
	Failures         FailureList
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	RestartCount     int
	Version          int

	mu sync.Mutex
}

// NewJobExecution creates a JobExecution in STARTING status.
func NewJobExecution(jobName string, params JobParameters) (*JobExecution, error) {
	instanceKey, err := params.InstanceKey(jobName)
	if err != nil {
		return nil, exception.NewBatchError("model", "failed to derive job instance key", err, false, false)
	}
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobName:          jobName,
		InstanceKey:      instanceKey,
		Parameters:       params,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		StartTime:        now,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}, nil
}

// TransitionTo moves the execution to newStatus, rejecting any transition out of a terminal status.
func (je *JobExecution) TransitionTo(newStatus JobStatus) error {
	je.mu.Lock()
	defer je.mu.Unlock()
	return je.transitionLocked(newStatus)
}

func (je *JobExecution) transitionLocked(newStatus JobStatus) error {
	if err := checkTransition(je.Status, newStatus); err != nil {
		return err
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	if newStatus.IsFinished() {
		end := je.LastUpdated
		je.EndTime = &end
	}
	return nil
}

// MarkAsRunning moves the execution to RUNNING.
func (je *JobExecution) MarkAsRunning() {
	if err := je.TransitionTo(BatchStatusRunning); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to RUNNING: %v", je.ID, err)
		return
	}
	je.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted moves the execution to COMPLETED. The exit status is
// COMPLETED_WITH_SKIPS when any step skipped items.
func (je *JobExecution) MarkAsCompleted() {
	je.finish(BatchStatusCompleted, nil)
}

// MarkAsFailed moves the execution to FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed, err)
}

// MarkAsStopped moves the execution to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped, nil)
}

func (je *JobExecution) finish(status JobStatus, cause error) {
	je.mu.Lock()
	defer je.mu.Unlock()
	if err := je.transitionLocked(status); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to %s: %v", je.ID, status, err)
		return
	}
	switch status {
	case BatchStatusCompleted:
		je.ExitStatus = ExitStatusCompleted
		for _, se := range je.StepExecutions {
			if se.ExitStatus == ExitStatusCompletedWithSkip {
				je.ExitStatus = ExitStatusCompletedWithSkip
				break
			}
		}
	case BatchStatusFailed:
		je.ExitStatus = ExitStatusFailed
	case BatchStatusStopped:
		je.ExitStatus = ExitStatusStopped
	}
	if cause != nil {
		je.addFailureLocked(cause)
	}
}

// AddFailureException records err, ignoring duplicate messages.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	je.mu.Lock()
	defer je.mu.Unlock()
	je.addFailureLocked(err)
}

func (je *JobExecution) addFailureLocked(err error) {
	msg := exception.Classification(err) + ": " + exception.ExtractErrorMessage(err)
	if je.Failures.contains(msg) {
		return
	}
	je.Failures = append(je.Failures, msg)
	je.LastUpdated = time.Now()
}

// AddStepExecution appends se. It is safe for concurrent use.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.StepExecutions = append(je.StepExecutions, se)
}

// Steps returns a snapshot of the step executions.
func (je *JobExecution) Steps() []*StepExecution {
	je.mu.Lock()
	defer je.mu.Unlock()
	return append([]*StepExecution(nil), je.StepExecutions...)
}

// CurrentStatus returns the status under the execution's lock.
func (je *JobExecution) CurrentStatus() JobStatus {
	je.mu.Lock()
	defer je.mu.Unlock()
	return je.Status
}
