package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/app"
)

// cronLogger routes cron's own messages through the logger package.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s %v: %v", msg, keysAndValues, err)
}

// scheduledParams returns the parameters of a run firing at now. With a
// lookback the run covers the lookbackDays days before now; without one it
// covers the dates of rows updated on now.
func scheduledParams(now time.Time, lookbackDays int) model.JobParameters {
	if lookbackDays <= 0 {
		p, _ := statisticsParams("", "", false, now)
		return p
	}
	start := now.AddDate(0, 0, -lookbackDays).Format(model.DateLayout)
	end := now.AddDate(0, 0, -1).Format(model.DateLayout)
	p, _ := statisticsParams(start, end, false, now)
	return p
}

func newScheduleCommand(g *globalFlags, embedded config.EmbeddedConfig) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run paymentStatisticsJob on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFunc(cmd.Context(), g.options(embedded), func(ctx context.Context, rt *app.Runtime) error {
				if spec == "" {
					spec = rt.Config.Seekbatch.Schedule.Cron
				}
				if spec == "" {
					return fmt.Errorf("no schedule: pass --cron or set schedule.cron")
				}
				if err := rt.Migrate(ctx, "up"); err != nil {
					return err
				}

				loc := rt.Config.Location()
				c := cron.New(
					cron.WithLocation(loc),
					cron.WithLogger(cronLogger{}),
					cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
				)
				lookback := rt.Config.Seekbatch.Schedule.LookbackDays
				if _, err := c.AddFunc(spec, func() {
					params := scheduledParams(time.Now().In(loc), lookback)
					logger.Infof("Scheduled run starting. Params: %s", params.String())
					if err := runStatistics(ctx, rt, params, false); err != nil {
						logger.Errorf("Scheduled run failed: %v", err)
					}
				}); err != nil {
					return fmt.Errorf("invalid cron expression %q: %w", spec, err)
				}

				c.Start()
				logger.Infof("Scheduler started with '%s' (%s). Waiting for SIGINT or SIGTERM.", spec, loc)
				<-ctx.Done()
				logger.Infof("Scheduler stopping. Waiting for a running job to reach a chunk boundary.")
				<-c.Stop().Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", `cron expression, e.g. "0 2 * * *" (default: schedule.cron)`)
	return cmd
}
