package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/app"
	paymentjob "github.com/tigerroll/seekbatch/example/payment/internal/job"
)

// reportParams returns the parameters of the next paymentReportJob run for
// paymentDate. Each run gets a new run.id unless the previous one did not complete.
func reportParams(ctx context.Context, explorer usecase.JobExplorer, paymentDate string) (model.JobParameters, error) {
	base := model.NewJobParameters(map[string]interface{}{paymentjob.ParamPaymentDate: paymentDate})
	params, _, err := usecase.NextRunParameters(ctx, explorer, paymentjob.PaymentReportJobName, base, incrementer.NewRunIDIncrementer(""))
	return params, err
}

func newReportCommand(g *globalFlags, embedded config.EmbeddedConfig) *cobra.Command {
	var (
		paymentDate string
		restart     bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Settle the payments of a payment date at their final amount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := parseDate("payment-date", paymentDate); err != nil {
				return err
			}
			return runFunc(cmd.Context(), g.options(embedded), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Migrate(ctx, "up"); err != nil {
					return err
				}
				params, err := reportParams(ctx, usecase.NewSimpleJobExplorer(rt.Launcher.Repository), paymentDate)
				if err != nil {
					return err
				}
				b, err := rt.Builder(ctx, false)
				if err != nil {
					return err
				}
				j, err := b.PaymentReportJob(params)
				if err != nil {
					return err
				}
				rt.Launcher.AbandonRunning = restart
				je, err := rt.Launch(ctx, j, params)
				if err != nil {
					return err
				}
				logger.Infof("Job '%s' completed (Execution ID: %s, Parameters: %s).", je.JobName, je.ID, params.String())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&paymentDate, "payment-date", "", "payment date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&restart, "restart", false, "abandon an unfinished execution of the run and run it again")
	_ = cmd.MarkFlagRequired("payment-date")
	return cmd
}
