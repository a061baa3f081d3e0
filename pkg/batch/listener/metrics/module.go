package metrics

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Module decorates the MetricRecorder with AsyncMetricRecorder when
// telemetry.async_buffer_size is positive.
var Module = fx.Decorate(decorateAsync)

func decorateAsync(lc fx.Lifecycle, cfg *config.Config, recorder metrics.MetricRecorder) metrics.MetricRecorder {
	size := cfg.Seekbatch.Telemetry.AsyncBufferSize
	if size <= 0 {
		return recorder
	}
	async := NewAsyncMetricRecorder(size, recorder)
	lc.Append(fx.StopHook(async.Close))
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return async
}
