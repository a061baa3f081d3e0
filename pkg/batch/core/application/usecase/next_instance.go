package usecase

import (
	"context"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// NextRunParameters picks the parameters of the next run of jobName. It applies
// inc to base until it reaches an instance that never ran. When the instance
// before it did not complete, its parameters are returned instead together
// with its latest execution, so that run resumes it. Otherwise last is nil.
func NextRunParameters(ctx context.Context, explorer JobExplorer, jobName string, base model.JobParameters,
	inc incrementer.JobParametersIncrementer) (params model.JobParameters, last *model.JobExecution, err error) {
	params = inc.GetNext(base)
	var lastParams model.JobParameters
	for {
		je, err := explorer.GetLastJobExecution(ctx, jobName, params)
		if err != nil {
			return model.JobParameters{}, nil, err
		}
		if je == nil {
			break
		}
		last, lastParams = je, params
		params = inc.GetNext(params)
	}

	if last != nil && last.Status != model.BatchStatusCompleted {
		logger.Infof("JobExplorer: Resuming '%s' with %s after JobExecution (ID: %s, Status: %s).", jobName, lastParams.String(), last.ID, last.Status)
		return lastParams, last, nil
	}
	logger.Debugf("JobExplorer: Next instance of '%s' is %s.", jobName, params.String())
	return params, nil, nil
}
