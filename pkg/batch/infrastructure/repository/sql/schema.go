package sql

import (
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// JobExecutionEntity is the persisted form of a JobExecution.
type JobExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey;size:36"`
	JobName          string                 `gorm:"column:job_name;size:100;not null"`
	InstanceKey      string                 `gorm:"column:instance_key;size:255;not null;index:idx_batch_job_execution_instance"`
	Parameters       model.JobParameters    `gorm:"column:parameters;type:text"`
	Status           model.JobStatus        `gorm:"column:status;size:20;not null"`
	ExitStatus       model.ExitStatus       `gorm:"column:exit_status;size:30"`
	StartTime        time.Time              `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	Failures         model.FailureList      `gorm:"column:failures;type:text"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context;type:text"`
	RestartCount     int                    `gorm:"column:restart_count"`
	Version          int                    `gorm:"column:version;not null"`
	CreateTime       time.Time              `gorm:"column:create_time;not null"`
	LastUpdated      time.Time              `gorm:"column:last_updated;not null"`
}

// TableName implements gorm's schema.Tabler.
func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the persisted form of a StepExecution.
type StepExecutionEntity struct {
	ID               string                 `gorm:"column:id;primaryKey;size:36"`
	JobExecutionID   string                 `gorm:"column:job_execution_id;size:36;not null;index:idx_batch_step_execution_job"`
	StepName         string                 `gorm:"column:step_name;size:255;not null"`
	Status           model.JobStatus        `gorm:"column:status;size:20;not null"`
	ExitStatus       model.ExitStatus       `gorm:"column:exit_status;size:30"`
	ExitDescription  string                 `gorm:"column:exit_description;type:text"`
	StartTime        time.Time              `gorm:"column:start_time"`
	EndTime          *time.Time             `gorm:"column:end_time"`
	ReadCount        int64                  `gorm:"column:read_count"`
	WriteCount       int64                  `gorm:"column:write_count"`
	FilterCount      int64                  `gorm:"column:filter_count"`
	ProcessSkipCount int64                  `gorm:"column:process_skip_count"`
	WriteSkipCount   int64                  `gorm:"column:write_skip_count"`
	CommitCount      int64                  `gorm:"column:commit_count"`
	RollbackCount    int64                  `gorm:"column:rollback_count"`
	Failures         model.FailureList      `gorm:"column:failures;type:text"`
	ExecutionContext model.ExecutionContext `gorm:"column:execution_context;type:text"`
	LastUpdated      time.Time              `gorm:"column:last_updated;not null"`
}

// TableName implements gorm's schema.Tabler.
func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

// stepExecutionColumns are the columns a repeated SaveStepExecution overwrites.
var stepExecutionColumns = []string{
	"job_execution_id", "step_name", "status", "exit_status", "exit_description",
	"start_time", "end_time", "read_count", "write_count", "filter_count",
	"process_skip_count", "write_skip_count", "commit_count", "rollback_count",
	"failures", "execution_context", "last_updated",
}
