// Package cli holds the cobra commands of the payment batch application.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"

	"github.com/tigerroll/seekbatch/example/payment/internal/app"
)

type globalFlags struct {
	configFile  string
	envFile     string
	logLevel    string
	metricsAddr string
}

func (g *globalFlags) options(embedded config.EmbeddedConfig) app.Options {
	return app.Options{
		EmbeddedConfig: embedded,
		ConfigFile:     g.configFile,
		EnvFilePath:    g.envFile,
		LogLevel:       g.logLevel,
		MetricsAddr:    g.metricsAddr,
	}
}

// runFunc is app.Run; tests replace it.
var runFunc = app.Run

// NewRootCommand builds the payment command tree.
func NewRootCommand(embedded config.EmbeddedConfig, version string) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "payment",
		Short:         "Daily payment statistics batch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	envDefault := os.Getenv("ENV_FILE_PATH")
	if envDefault == "" {
		envDefault = ".env"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "YAML configuration file (default: the embedded application.yaml)")
	pf.StringVar(&g.envFile, "env-file", envDefault, ".env file loaded before the configuration is expanded")
	pf.StringVar(&g.logLevel, "log-level", "", "log level override (DEBUG, INFO, WARN, ERROR)")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(
		newRunCommand(g, embedded),
		newRunDailyCommand(g, embedded),
		newExportCommand(g, embedded),
		newReportCommand(g, embedded),
		newMigrateCommand(g, embedded),
		newScheduleCommand(g, embedded),
		newStatusCommand(g, embedded),
		newVersionCommand(version),
	)
	return root
}

// Execute runs the command tree with ctx, which is cancelled to stop a running job.
func Execute(ctx context.Context, embedded config.EmbeddedConfig, version string, args []string) error {
	root := NewRootCommand(embedded, version)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func parseDate(flag, value string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be a date in %s format: %w", flag, model.DateLayout, err)
	}
	return t, nil
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "payment "+version)
		},
	}
}
