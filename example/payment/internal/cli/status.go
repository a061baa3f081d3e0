package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"

	"github.com/tigerroll/seekbatch/example/payment/internal/app"
	paymentjob "github.com/tigerroll/seekbatch/example/payment/internal/job"
)

type statusFlags struct {
	executionID string
	startDate   string
	endDate     string
	paymentDate string
}

// lookup resolves the flags to the job name and parameters of one job instance.
func (f *statusFlags) lookup() (string, model.JobParameters, error) {
	if f.paymentDate != "" {
		if _, err := parseDate("payment-date", f.paymentDate); err != nil {
			return "", model.JobParameters{}, err
		}
		return paymentjob.PaymentStatisticsDailyJobName,
			model.NewJobParameters(map[string]interface{}{paymentjob.ParamPaymentDate: f.paymentDate}), nil
	}
	if f.startDate == "" || f.endDate == "" {
		return "", model.JobParameters{}, fmt.Errorf("give --execution-id, --payment-date or both --start-date and --end-date")
	}
	params, err := statisticsParams(f.startDate, f.endDate, false, time.Time{})
	if err != nil {
		return "", model.JobParameters{}, err
	}
	return paymentjob.PaymentStatisticsJobName, params, nil
}

func newStatusCommand(g *globalFlags, embedded config.EmbeddedConfig) *cobra.Command {
	f := &statusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest execution of a job instance and its steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				jobName string
				params  model.JobParameters
			)
			if f.executionID == "" {
				var err error
				if jobName, params, err = f.lookup(); err != nil {
					return err
				}
			}
			return runFunc(cmd.Context(), g.options(embedded), func(ctx context.Context, rt *app.Runtime) error {
				explorer := usecase.NewSimpleJobExplorer(rt.Launcher.Repository)
				var (
					je  *model.JobExecution
					err error
				)
				if f.executionID != "" {
					je, err = explorer.GetJobExecution(ctx, f.executionID)
				} else {
					je, err = explorer.GetLastJobExecution(ctx, jobName, params)
				}
				if err != nil {
					return err
				}
				if je == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s has not run.\n", jobName, params)
					return nil
				}
				return printExecution(cmd.OutOrStdout(), je)
			})
		},
	}
	cmd.Flags().StringVar(&f.executionID, "execution-id", "", "job execution ID")
	cmd.Flags().StringVar(&f.startDate, "start-date", "", "first payment date of a paymentStatisticsJob run")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "last payment date of a paymentStatisticsJob run")
	cmd.Flags().StringVar(&f.paymentDate, "payment-date", "", "payment date of a paymentStatisticsDailyJob run")
	return cmd
}

func printExecution(out io.Writer, je *model.JobExecution) error {
	fmt.Fprintf(out, "Job:        %s\n", je.JobName)
	fmt.Fprintf(out, "Execution:  %s (restart %d)\n", je.ID, je.RestartCount)
	fmt.Fprintf(out, "Parameters: %s\n", je.Parameters)
	fmt.Fprintf(out, "Status:     %s / %s\n", je.Status, je.ExitStatus)
	for _, f := range je.Failures {
		fmt.Fprintf(out, "Failure:    %s\n", f)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tEXIT\tREAD\tWRITE\tFILTER\tSKIP\tCOMMIT\tROLLBACK")
	for _, se := range je.StepExecutions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			se.StepName, se.Status, se.ExitStatus, se.ReadCount, se.WriteCount, se.FilterCount,
			se.ProcessSkipCount+se.WriteSkipCount, se.CommitCount, se.RollbackCount)
	}
	return w.Flush()
}
