// Package job holds the job shell: an ordered list of steps with before and after
// callbacks, and the Launcher that runs it against a repository and a checkpoint store.
package job

import (
	"fmt"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

// Job is a named, ordered sequence of steps.
type Job struct {
	name      string
	steps     []port.Step
	beforeJob []hook.JobFunc
	afterJob  []hook.JobFunc
}

// New creates a Job. Step names must be unique within the job because they
// identify the steps' checkpoints.
func New(name string, steps ...port.Step) (*Job, error) {
	const op = "Job.New"
	if name == "" {
		return nil, exception.NewBatchError(op, "job name is required", nil, false, false)
	}
	if len(steps) == 0 {
		return nil, exception.NewBatchError(op, fmt.Sprintf("job '%s' has no steps", name), nil, false, false)
	}
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s == nil {
			return nil, exception.NewBatchError(op, fmt.Sprintf("job '%s': step %d is nil", name, i), nil, false, false)
		}
		if seen[s.StepName()] {
			return nil, exception.NewBatchError(op, fmt.Sprintf("job '%s': duplicate step name '%s'", name, s.StepName()), nil, false, false)
		}
		seen[s.StepName()] = true
	}
	return &Job{name: name, steps: steps}, nil
}

// Name returns the job name.
func (j *Job) Name() string {
	return j.name
}

// Steps returns the steps in execution order.
func (j *Job) Steps() []port.Step {
	return append([]port.Step(nil), j.steps...)
}

// BeforeJob registers fn to run after the execution starts and before the first step.
// An error from fn fails the job without running any step.
func (j *Job) BeforeJob(fn hook.JobFunc) *Job {
	j.beforeJob = append(j.beforeJob, fn)
	return j
}

// AfterJob registers fn to run once the job reached its terminal status. An error
// from fn is recorded on the execution but does not change its status.
func (j *Job) AfterJob(fn hook.JobFunc) *Job {
	j.afterJob = append(j.afterJob, fn)
	return j
}
