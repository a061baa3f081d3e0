package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/app"
	paymentjob "github.com/tigerroll/seekbatch/example/payment/internal/job"
)

type runFlags struct {
	startDate         string
	endDate           string
	workers           int
	clearExistingData bool
	restart           bool
	newInstance       bool
}

// statisticsParams builds the parameters of paymentStatisticsJob. Without a
// range the run covers the payment dates of rows updated on today.
func statisticsParams(startDate, endDate string, clearExistingData bool, today time.Time) (model.JobParameters, error) {
	params := map[string]interface{}{}
	switch {
	case startDate == "" && endDate == "":
		params[paymentjob.ParamRunDate] = today.Format(model.DateLayout)
	case startDate == "" || endDate == "":
		return model.JobParameters{}, fmt.Errorf("--start-date and --end-date must be given together")
	default:
		start, err := parseDate("start-date", startDate)
		if err != nil {
			return model.JobParameters{}, err
		}
		end, err := parseDate("end-date", endDate)
		if err != nil {
			return model.JobParameters{}, err
		}
		if end.Before(start) {
			return model.JobParameters{}, fmt.Errorf("--end-date %s is before --start-date %s", endDate, startDate)
		}
		params[paymentjob.ParamStartDate] = startDate
		params[paymentjob.ParamEndDate] = endDate
	}
	if clearExistingData {
		params[paymentjob.ParamClearExistingData] = true
	}
	return model.NewJobParameters(params), nil
}

func newRunCommand(g *globalFlags, embedded config.EmbeddedConfig) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Aggregate daily payment statistics, one partition per day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFunc(cmd.Context(), g.options(embedded), func(ctx context.Context, rt *app.Runtime) error {
				if f.workers > 0 {
					rt.Config.Seekbatch.Batch.WorkerCount = f.workers
				}
				params, err := statisticsParams(f.startDate, f.endDate, f.clearExistingData, time.Now().In(rt.Config.Location()))
				if err != nil {
					return err
				}
				if f.newInstance {
					params = incrementer.NewTimestampIncrementer("").GetNext(params)
				}
				return runStatistics(ctx, rt, params, f.restart)
			})
		},
	}
	cmd.Flags().StringVar(&f.startDate, "start-date", "", "first payment date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "last payment date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "partitions running at once (default: batch.worker_count)")
	cmd.Flags().BoolVar(&f.clearExistingData, "clear-existing-data", false, "delete the range's statistics before the first attempt")
	cmd.Flags().BoolVar(&f.restart, "restart", false, "abandon an unfinished execution of the same instance and run again")
	cmd.Flags().BoolVar(&f.newInstance, "new-instance", false, "start a new job instance instead of resuming a failed one")
	return cmd
}

func runStatistics(ctx context.Context, rt *app.Runtime, params model.JobParameters, restart bool) error {
	if err := rt.Migrate(ctx, "up"); err != nil {
		return err
	}
	b, err := rt.Builder(ctx, false)
	if err != nil {
		return err
	}
	j, err := b.PaymentStatisticsJob(params)
	if err != nil {
		return err
	}
	rt.Launcher.AbandonRunning = restart
	je, err := rt.Launch(ctx, j, params)
	if err != nil {
		return err
	}
	logger.Infof("Job '%s' completed (Execution ID: %s).", je.JobName, je.ID)
	return nil
}

func newRunDailyCommand(g *globalFlags, embedded config.EmbeddedConfig) *cobra.Command {
	var (
		paymentDate       string
		clearExistingData bool
		restart           bool
		newInstance       bool
	)
	cmd := &cobra.Command{
		Use:   "run-daily",
		Short: "Aggregate the statistics of a single payment date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := parseDate("payment-date", paymentDate); err != nil {
				return err
			}
			params := map[string]interface{}{paymentjob.ParamPaymentDate: paymentDate}
			if clearExistingData {
				params[paymentjob.ParamClearExistingData] = true
			}
			jobParams := model.NewJobParameters(params)
			if newInstance {
				jobParams = incrementer.NewTimestampIncrementer("").GetNext(jobParams)
			}

			return runFunc(cmd.Context(), g.options(embedded), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Migrate(ctx, "up"); err != nil {
					return err
				}
				b, err := rt.Builder(ctx, false)
				if err != nil {
					return err
				}
				j, err := b.PaymentStatisticsDailyJob(jobParams)
				if err != nil {
					return err
				}
				rt.Launcher.AbandonRunning = restart
				_, err = rt.Launch(ctx, j, jobParams)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&paymentDate, "payment-date", "", "payment date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&clearExistingData, "clear-existing-data", false, "delete the date's statistics before the first attempt")
	cmd.Flags().BoolVar(&restart, "restart", false, "abandon an unfinished execution of the same instance and run again")
	cmd.Flags().BoolVar(&newInstance, "new-instance", false, "start a new job instance instead of resuming a failed one")
	_ = cmd.MarkFlagRequired("payment-date")
	return cmd
}

func newExportCommand(g *globalFlags, embedded config.EmbeddedConfig) *cobra.Command {
	var startDate, endDate string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export daily statistics as Parquet to the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseDate("start-date", startDate)
			if err != nil {
				return err
			}
			end, err := parseDate("end-date", endDate)
			if err != nil {
				return err
			}
			if end.Before(start) {
				return fmt.Errorf("--end-date %s is before --start-date %s", endDate, startDate)
			}
			params := model.NewJobParameters(map[string]interface{}{
				paymentjob.ParamStartDate: startDate,
				paymentjob.ParamEndDate:   endDate,
			})

			return runFunc(cmd.Context(), g.options(embedded), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Migrate(ctx, "up"); err != nil {
					return err
				}
				b, err := rt.Builder(ctx, true)
				if err != nil {
					return err
				}
				j, err := b.ExportJob(params)
				if err != nil {
					return err
				}
				_, err = rt.Launch(ctx, j, params)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "first payment date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "last payment date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start-date")
	_ = cmd.MarkFlagRequired("end-date")
	return cmd
}

func newMigrateCommand(g *globalFlags, embedded config.EmbeddedConfig) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or revert the database schema",
		ValidArgs: []string{"up", "down"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunc(cmd.Context(), g.options(embedded), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Migrate(ctx, args[0]); err != nil {
					return err
				}
				logger.Infof("Migrations %s completed.", args[0])
				return nil
			})
		},
	}
}
