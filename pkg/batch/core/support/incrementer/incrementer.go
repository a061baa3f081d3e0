// Package incrementer derives the parameters of a new job instance from an existing set.
package incrementer

import (
	"fmt"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// JobParametersIncrementer returns parameters that identify a different job instance.
type JobParametersIncrementer interface {
	GetNext(params model.JobParameters) model.JobParameters
}

// RunIDIncrementer sets an int64 parameter to 1, or increments it when present.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a RunIDIncrementer. An empty name uses "run.id".
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	if name == "" {
		name = "run.id"
	}
	return &RunIDIncrementer{name: name}
}

// GetNext implements JobParametersIncrementer.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	current, ok := params.GetInt64(i.name)
	if !ok {
		logger.Debugf("JobParametersIncrementer: '%s' not found, setting to 1.", i.name)
		return params.With(i.name, int64(1))
	}
	logger.Debugf("JobParametersIncrementer: Incrementing '%s' from %d to %d.", i.name, current, current+1)
	return params.With(i.name, current+1)
}

func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

// TimestampIncrementer sets a parameter to the current Unix time in milliseconds.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer creates a TimestampIncrementer. An empty name uses "run.timestamp".
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	if name == "" {
		name = "run.timestamp"
	}
	return &TimestampIncrementer{name: name, now: time.Now}
}

// GetNext implements JobParametersIncrementer.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	ts := i.now().UnixMilli()
	logger.Debugf("JobParametersIncrementer: Setting '%s' to %d.", i.name, ts)
	return params.With(i.name, ts)
}

func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var (
	_ JobParametersIncrementer = (*RunIDIncrementer)(nil)
	_ JobParametersIncrementer = (*TimestampIncrementer)(nil)
)
