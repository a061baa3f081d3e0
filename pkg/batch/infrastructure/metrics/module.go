package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// Module provides the Prometheus and OpenTelemetry backends as the core
// MetricRecorder and Tracer, and serves /metrics when telemetry.metrics_addr is set.
var Module = fx.Options(
	fx.Provide(
		newTelemetryFromConfig,
		NewPrometheusRecorder,
		newRecorder,
		newTracer,
	),
	fx.Invoke(registerMetricsServer),
)

func newTelemetryFromConfig(lc fx.Lifecycle, cfg *config.Config) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg.Seekbatch.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

func newRecorder(prom *PrometheusRecorder, t *Telemetry) (metrics.MetricRecorder, error) {
	otelRecorder, err := NewOpenTelemetryRecorder(t.MeterProvider)
	if err != nil {
		return nil, err
	}
	return NewCompositeRecorder(prom, otelRecorder), nil
}

func newTracer(t *Telemetry) metrics.Tracer {
	return NewOpenTelemetryTracer(t.TracerProvider)
}

// NewMetricsHandler returns the /metrics handler of recorder's registry.
func NewMetricsHandler(recorder *PrometheusRecorder) http.Handler {
	return promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{})
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, recorder *PrometheusRecorder) {
	addr := cfg.Seekbatch.Telemetry.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler(recorder))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics server stopped: %v", err)
				}
			}()
			logger.Infof("Serving Prometheus metrics on %s/metrics.", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
