package sql

import (
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	if je == nil {
		return nil
	}
	return &JobExecutionEntity{
		ID:               je.ID,
		JobName:          je.JobName,
		InstanceKey:      je.InstanceKey,
		Parameters:       je.Parameters,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		Failures:         je.Failures,
		ExecutionContext: je.ExecutionContext,
		RestartCount:     je.RestartCount,
		Version:          je.Version,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
	}
}

func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	if entity == nil {
		return nil
	}
	je := &model.JobExecution{
		ID:               entity.ID,
		JobName:          entity.JobName,
		InstanceKey:      entity.InstanceKey,
		Parameters:       entity.Parameters,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Failures:         entity.Failures,
		ExecutionContext: entity.ExecutionContext,
		RestartCount:     entity.RestartCount,
		Version:          entity.Version,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
	}
	// Step executions are loaded separately by the repository.
	je.StepExecutions = make([]*model.StepExecution, 0)
	if je.ExecutionContext == nil {
		je.ExecutionContext = model.NewExecutionContext()
	}
	return je
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	if se == nil {
		return nil
	}
	return &StepExecutionEntity{
		ID:               se.ID,
		JobExecutionID:   se.JobExecutionID,
		StepName:         se.StepName,
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
		Failures:         se.Failures,
		ExecutionContext: se.ExecutionContext,
		LastUpdated:      se.LastUpdated,
	}
}

func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	if entity == nil {
		return nil
	}
	se := &model.StepExecution{
		ID:               entity.ID,
		JobExecutionID:   entity.JobExecutionID,
		StepName:         entity.StepName,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		ExitDescription:  entity.ExitDescription,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		ReadCount:        entity.ReadCount,
		WriteCount:       entity.WriteCount,
		FilterCount:      entity.FilterCount,
		ProcessSkipCount: entity.ProcessSkipCount,
		WriteSkipCount:   entity.WriteSkipCount,
		CommitCount:      entity.CommitCount,
		RollbackCount:    entity.RollbackCount,
		Failures:         entity.Failures,
		ExecutionContext: entity.ExecutionContext,
		LastUpdated:      entity.LastUpdated,
	}
	if se.ExecutionContext == nil {
		se.ExecutionContext = model.NewExecutionContext()
	}
	return se
}
