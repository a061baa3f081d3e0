// Package listener assembles the hooks every job of an application gets.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	coremetrics "github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/job"
	"github.com/tigerroll/seekbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/seekbatch/pkg/batch/listener/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/listener/notification"
	"github.com/tigerroll/seekbatch/pkg/batch/listener/tracing"
)

// Observers carries the standard step hooks and job callbacks.
type Observers struct {
	recorder  coremetrics.MetricRecorder
	tracer    coremetrics.Tracer
	notifiers []notification.Notifier
}

// NewObservers creates Observers. The log notifier is always included.
func NewObservers(recorder coremetrics.MetricRecorder, tracer coremetrics.Tracer, notifiers ...notification.Notifier) *Observers {
	return &Observers{
		recorder:  recorder,
		tracer:    tracer,
		notifiers: append([]notification.Notifier{notification.NewLogNotifier()}, notifiers...),
	}
}

// StepHooks returns a fresh set of logging, metrics and tracing step hooks.
func (o *Observers) StepHooks() *hook.StepHooks {
	return logging.StepHooks().
		Merge(metrics.StepHooks(o.recorder)).
		Merge(tracing.StepHooks(o.tracer))
}

// Attach registers the logging and notification callbacks on j.
func (o *Observers) Attach(j *job.Job) *job.Job {
	return j.BeforeJob(logging.BeforeJob).
		AfterJob(logging.AfterJob).
		AfterJob(notification.AfterJob(o.notifiers...))
}

// Module provides *Observers and the optional asynchronous recorder.
var Module = fx.Options(
	metrics.Module,
	fx.Provide(func(recorder coremetrics.MetricRecorder, tracer coremetrics.Tracer) *Observers {
		return NewObservers(recorder, tracer)
	}),
)
