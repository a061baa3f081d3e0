package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// JobStatus represents the state of a job or step execution.
type JobStatus string

const (
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusRunning   JobStatus = "RUNNING"
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusStopped   JobStatus = "STOPPED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished reports whether s is terminal.
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped:
		return true
	default:
		return false
	}
}

// Precedence orders terminal statuses when several executions are folded into one:
// FAILED outranks STOPPED, which outranks COMPLETED.
func (s JobStatus) Precedence() int {
	switch s {
	case BatchStatusFailed:
		return 3
	case BatchStatusStopped:
		return 2
	case BatchStatusCompleted:
		return 1
	default:
		return 0
	}
}

// ExitStatus is the exit signal reported alongside a terminal status.
type ExitStatus string

const (
	ExitStatusUnknown           ExitStatus = "UNKNOWN"
	ExitStatusExecuting         ExitStatus = "EXECUTING"
	ExitStatusCompleted         ExitStatus = "COMPLETED"
	ExitStatusCompletedWithSkip ExitStatus = "COMPLETED_WITH_SKIPS"
	ExitStatusNoop              ExitStatus = "NOOP"
	ExitStatusFailed            ExitStatus = "FAILED"
	ExitStatusStopped           ExitStatus = "STOPPED"
)

// String returns the string representation of the ExitStatus.
func (s ExitStatus) String() string {
	return string(s)
}

// ErrTerminalStatus is returned when an execution that already reached a terminal
// status is asked to transition again.
var ErrTerminalStatus = errors.New("execution already has a terminal status")

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

func checkTransition(current, next JobStatus) error {
	if current.IsFinished() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalStatus, current, next)
	}
	switch current {
	case BatchStatusStarting:
		if next == BatchStatusRunning || next.IsFinished() {
			return nil
		}
	case BatchStatusRunning:
		if next.IsFinished() {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// FailureList holds the messages of failures recorded on an execution.
type FailureList []string

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*fl = FailureList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}
	if len(b) == 0 {
		*fl = FailureList{}
		return nil
	}
	return json.Unmarshal(b, fl)
}

func (fl FailureList) contains(msg string) bool {
	for _, existing := range fl {
		if existing == msg {
			return true
		}
	}
	return false
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
