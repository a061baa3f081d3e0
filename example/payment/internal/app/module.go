// Package app wires the payment batch application with uber-fx.
package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/seekbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	"github.com/tigerroll/seekbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/core/tx"
	batchjob "github.com/tigerroll/seekbatch/pkg/batch/engine/job"
	checkpointgorm "github.com/tigerroll/seekbatch/pkg/batch/infrastructure/checkpoint/gorm"
	"github.com/tigerroll/seekbatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/seekbatch/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/seekbatch/pkg/batch/listener"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"
)

// PaymentDBParams selects the payment datasource.
type PaymentDBParams struct {
	fx.In
	DB *gorm.DB `name:"paymentDB"`
}

// Module provides the connections, stores and launcher of the payment jobs.
// Payment tables live in the checkpoint datasource, so checkpoints commit with
// the statistics they describe.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(newPaymentDB, fx.ResultTags(`name:"paymentDB"`)),
		newCheckpointStore,
		newTxManager,
		newJobRepository,
		newLauncher,
		newRuntime,
	),
)

func connection(provider *gormadapter.Provider, ref string) (*gorm.DB, error) {
	db, err := provider.GetConnection(ref)
	if err != nil {
		return nil, fmt.Errorf("datasource '%s': %w", ref, err)
	}
	return db, nil
}

func newPaymentDB(cfg *config.Config, provider *gormadapter.Provider) (*gorm.DB, error) {
	return connection(provider, cfg.Seekbatch.Infrastructure.CheckpointDBRef)
}

func newCheckpointStore(p PaymentDBParams) port.CheckpointStore {
	return checkpointgorm.NewStore(p.DB)
}

func newTxManager(p PaymentDBParams) tx.TransactionManager {
	return gormadapter.NewGormTransactionManager(p.DB)
}

func newJobRepository(lc fx.Lifecycle, cfg *config.Config, provider *gormadapter.Provider) (repository.JobRepository, error) {
	infra := cfg.Seekbatch.Infrastructure
	var repo repository.JobRepository
	switch infra.JobRepositoryType {
	case "inmemory":
		repo = inmemory.NewInMemoryJobRepository()
	case "sql", "":
		db, err := connection(provider, infra.JobRepositoryDBRef)
		if err != nil {
			return nil, err
		}
		repo = sqlrepo.NewSQLJobRepository(db)
	default:
		return nil, fmt.Errorf("unsupported job repository type: %s", infra.JobRepositoryType)
	}
	logger.Debugf("JobRepository of type '%s' created.", infra.JobRepositoryType)
	lc.Append(fx.StopHook(func(context.Context) error { return repo.Close() }))
	return repo, nil
}

func newLauncher(repo repository.JobRepository, store port.CheckpointStore, recorder metrics.MetricRecorder, tracer metrics.Tracer) *batchjob.Launcher {
	l := batchjob.NewLauncher(repo, store)
	l.Recorder = recorder
	l.Tracer = tracer
	return l
}

// RuntimeParams are the fx inputs of Runtime.
type RuntimeParams struct {
	fx.In
	Config      *config.Config
	Databases   *gormadapter.Provider
	Storage     *storage.Provider
	PaymentDB   *gorm.DB `name:"paymentDB"`
	Launcher    *batchjob.Launcher
	Checkpoints port.CheckpointStore
	TxManager   tx.TransactionManager
	Observers   *batchlistener.Observers
	Recorder    metrics.MetricRecorder
}

func newRuntime(p RuntimeParams) *Runtime {
	return &Runtime{
		Config:      p.Config,
		Databases:   p.Databases,
		Storage:     p.Storage,
		PaymentDB:   p.PaymentDB,
		Launcher:    p.Launcher,
		checkpoints: p.Checkpoints,
		txManager:   p.TxManager,
		observers:   p.Observers,
		recorder:    p.Recorder,
	}
}
