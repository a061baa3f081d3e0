package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/seekbatch/pkg/batch/adapter/storage"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/gcs"
	_ "github.com/tigerroll/seekbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/core/tx"
	batchjob "github.com/tigerroll/seekbatch/pkg/batch/engine/job"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/migration"
	batchlistener "github.com/tigerroll/seekbatch/pkg/batch/listener"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	paymentjob "github.com/tigerroll/seekbatch/example/payment/internal/job"
	paymentmigration "github.com/tigerroll/seekbatch/example/payment/internal/migration"
)

// Options are the command-line settings that shape the application.
type Options struct {
	// EmbeddedConfig is used unless ConfigFile is set.
	EmbeddedConfig config.EmbeddedConfig
	ConfigFile     string
	EnvFilePath    string
	// LogLevel and MetricsAddr override the configuration when set.
	LogLevel    string
	MetricsAddr string
}

// Runtime is the started application handed to a command.
type Runtime struct {
	Config    *config.Config
	Databases *gormadapter.Provider
	Storage   *storage.Provider
	PaymentDB *gorm.DB
	Launcher  *batchjob.Launcher

	checkpoints port.CheckpointStore
	txManager   tx.TransactionManager
	observers   *batchlistener.Observers
	recorder    coremetrics.MetricRecorder
}

// Run starts the application, calls fn and stops the application again.
func Run(ctx context.Context, opts Options, fn func(ctx context.Context, rt *Runtime) error) error {
	raw := opts.EmbeddedConfig
	if opts.ConfigFile != "" {
		b, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return exception.NewBatchError("app", fmt.Sprintf("failed to read config file '%s'", opts.ConfigFile), err, false, false)
		}
		raw = b
	}

	var rt *Runtime
	app := fx.New(
		fx.Supply(
			raw,
			fx.Annotated{Name: "envFilePath", Target: opts.EnvFilePath},
		),
		logger.Module,
		config.Module,
		fx.Decorate(func(cfg *config.Config) *config.Config {
			return applyOverrides(cfg, opts)
		}),
		gormadapter.Module,
		metrics.Module,
		batchlistener.Module,
		storage.Module,
		Module,
		fx.Populate(&rt),
	)
	if err := app.Err(); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Errorf("Failed to stop application: %v", err)
		}
	}()
	return fn(ctx, rt)
}

func applyOverrides(cfg *config.Config, opts Options) *config.Config {
	if opts.LogLevel != "" {
		cfg.Seekbatch.System.Logging.Level = opts.LogLevel
	}
	if opts.MetricsAddr != "" {
		cfg.Seekbatch.Telemetry.MetricsAddr = opts.MetricsAddr
	}
	cfg.Apply()
	return cfg
}

// Migrate applies ("up") or reverts ("down") the framework and payment schemas.
func (rt *Runtime) Migrate(ctx context.Context, direction string) error {
	infra := rt.Config.Seekbatch.Infrastructure
	type target struct {
		db      *gorm.DB
		sources []migration.Source
	}
	targets := []target{{db: rt.PaymentDB, sources: []migration.Source{migration.FrameworkSource(), paymentmigration.Source()}}}
	if infra.JobRepositoryType != "inmemory" && infra.JobRepositoryDBRef != infra.CheckpointDBRef {
		db, err := connection(rt.Databases, infra.JobRepositoryDBRef)
		if err != nil {
			return err
		}
		targets = append(targets, target{db: db, sources: []migration.Source{migration.FrameworkSource()}})
	}

	for _, t := range targets {
		m, err := migration.NewMigrator(t.db)
		if err != nil {
			return err
		}
		switch direction {
		case "up":
			err = m.Up(ctx, t.sources...)
		case "down":
			err = m.Down(ctx, t.sources...)
		default:
			return fmt.Errorf("unknown migration direction %q (use up or down)", direction)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Builder creates a job builder. The export storage connection is opened only
// when withStorage is set.
func (rt *Runtime) Builder(ctx context.Context, withStorage bool) (*paymentjob.Builder, error) {
	deps := paymentjob.Dependencies{
		DB:          rt.PaymentDB,
		TxManager:   rt.txManager,
		Checkpoints: rt.checkpoints,
		Observers:   rt.observers,
		Recorder:    rt.recorder,
	}
	if withStorage {
		conn, err := rt.Storage.GetConnection(ctx, rt.Config.Seekbatch.Export.StorageRef)
		if err != nil {
			return nil, err
		}
		deps.Storage = conn
	}
	return paymentjob.NewBuilder(deps, paymentjob.SettingsFromConfig(rt.Config)), nil
}

// Launch runs j and turns a non-completed outcome into an error.
func (rt *Runtime) Launch(ctx context.Context, j *batchjob.Job, params model.JobParameters) (*model.JobExecution, error) {
	je, err := rt.Launcher.Run(ctx, j, params)
	if err != nil {
		return je, err
	}
	if je.Status != model.BatchStatusCompleted {
		return je, fmt.Errorf("job '%s' (Execution ID: %s) ended with status %s", je.JobName, je.ID, je.Status)
	}
	return je, nil
}
