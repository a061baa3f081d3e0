// Package notification reports finished jobs to external systems.
package notification

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Notifier is told about every finished job.
type Notifier interface {
	NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) error
}

// LogNotifier writes the notification to the log.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Message formats the notification text of execution.
func Message(execution *model.JobExecution) string {
	duration := time.Duration(0)
	if execution.EndTime != nil {
		duration = execution.EndTime.Sub(execution.StartTime)
	}
	return fmt.Sprintf(
		"Job '%s' (ID: %s, Instance: %s) finished with Status: %s, ExitStatus: %s. Duration: %s, Failures: %d",
		execution.JobName, execution.ID, execution.InstanceKey, execution.Status, execution.ExitStatus,
		duration.Round(time.Millisecond), len(execution.Failures),
	)
}

// NotifyJobCompletion implements Notifier.
func (n *LogNotifier) NotifyJobCompletion(_ context.Context, execution *model.JobExecution) error {
	if execution.Status == model.BatchStatusCompleted {
		logger.Infof("Notification: %s", Message(execution))
	} else {
		logger.Warnf("Notification: %s", Message(execution))
	}
	return nil
}

// AfterJob returns a job callback that hands the execution to notifiers. A failing
// notifier does not prevent the others from running.
func AfterJob(notifiers ...Notifier) hook.JobFunc {
	return func(ctx context.Context, je *model.JobExecution) error {
		var firstErr error
		for _, n := range notifiers {
			if err := n.NotifyJobCompletion(ctx, je); err != nil {
				logger.Warnf("Notification for job '%s' failed: %v", je.JobName, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}
}
