// Package job assembles the payment jobs from the engine's steps.
package job

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/seekbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/seekbatch/pkg/batch/component/reader/keyset"
	"github.com/tigerroll/seekbatch/pkg/batch/component/writer/parquet"
	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/seekbatch/pkg/batch/core/tx"
	batchjob "github.com/tigerroll/seekbatch/pkg/batch/engine/job"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/partition"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/skip"
	batchlistener "github.com/tigerroll/seekbatch/pkg/batch/listener"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"

	"github.com/tigerroll/seekbatch/example/payment/internal/domain/entity"
	"github.com/tigerroll/seekbatch/example/payment/internal/repository"
	"github.com/tigerroll/seekbatch/example/payment/internal/step/listener"
	"github.com/tigerroll/seekbatch/example/payment/internal/step/processor"
	"github.com/tigerroll/seekbatch/example/payment/internal/step/writer"
)

// Job, step and parameter names.
const (
	PaymentStatisticsJobName      = "paymentStatisticsJob"
	PaymentStatisticsDailyJobName = "paymentStatisticsDailyJob"
	ExportJobName                 = "exportDailyStatisticsJob"
	PaymentReportJobName          = "paymentReportJob"

	StatisticsStepName      = "paymentStatistics"
	DailyStatisticsStepName = "dailyStatistics"
	ExportStepName          = "exportDailyStatistics"
	ReportStepName          = "paymentReport"

	ParamStartDate         = "startDate"
	ParamEndDate           = "endDate"
	ParamPaymentDate       = "paymentDate"
	ParamRunDate           = "runDate"
	ParamClearExistingData = "clearExistingData"

	ContextKeyTargetPaymentDates  = "targetPaymentDates"
	ContextKeyClearedRows         = "clearedRows"
	ContextKeyExistingDataCleared = "existingDataCleared"
)

// Settings are the engine settings the jobs are built with.
type Settings struct {
	ChunkSize      int
	PageSize       int
	PageRateLimit  float64
	WorkerCount    int
	FailFast       bool
	SkipLimit      int64
	SkippableKinds []string
	RetryAttempts  int
	RetryInterval  time.Duration
	RetryableKinds []string
	Location       *time.Location
	ExportPrefix   string
}

// SettingsFromConfig reads Settings from cfg. With no skippable kinds configured,
// invalid payment amounts are skippable.
func SettingsFromConfig(cfg *config.Config) Settings {
	b := cfg.Seekbatch.Batch
	kinds := b.ItemSkip.SkippableExceptions
	if len(kinds) == 0 {
		kinds = []string{entity.InvalidPaymentAmountKind}
	}
	return Settings{
		ChunkSize:      b.ChunkSize,
		PageSize:       b.PageSize,
		PageRateLimit:  b.PageRateLimit,
		WorkerCount:    b.WorkerCount,
		FailFast:       b.FailFast,
		SkipLimit:      b.ItemSkip.SkipLimit,
		SkippableKinds: kinds,
		RetryAttempts:  b.ItemRetry.MaxAttempts,
		RetryInterval:  time.Duration(b.ItemRetry.InitialInterval) * time.Millisecond,
		RetryableKinds: b.ItemRetry.RetryableExceptions,
		Location:       cfg.Location(),
		ExportPrefix:   cfg.Seekbatch.Export.Prefix,
	}
}

// Dependencies are the services the jobs run against.
type Dependencies struct {
	// DB holds payment_source and payment_daily_statistics.
	DB          *gorm.DB
	TxManager   tx.TransactionManager
	Checkpoints port.CheckpointStore
	// Observers adds the standard logging, metrics and tracing hooks. Optional.
	Observers *batchlistener.Observers
	Recorder  metrics.MetricRecorder
	// Storage receives exports. Only the export job needs it.
	Storage storage.StorageConnection
}

// Builder creates the payment jobs for given parameters.
type Builder struct {
	deps     Dependencies
	settings Settings
	repo     *repository.PaymentRepository
	tracker  *listener.StepDurationTracker
}

// NewBuilder creates a Builder.
func NewBuilder(deps Dependencies, settings Settings) *Builder {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Builder{
		deps:     deps,
		settings: settings,
		repo:     repository.NewPaymentRepository(deps.DB),
		tracker:  listener.NewStepDurationTracker(deps.Recorder),
	}
}

// Repository returns the repository the jobs use.
func (b *Builder) Repository() *repository.PaymentRepository {
	return b.repo
}

func (b *Builder) retryPolicy() retry.Policy {
	return retry.NewPolicy(b.settings.RetryAttempts, b.settings.RetryInterval, b.settings.RetryableKinds...)
}

func (b *Builder) stepHooks() *hook.StepHooks {
	h := hook.NewStepHooks()
	if b.deps.Observers != nil {
		h.Merge(b.deps.Observers.StepHooks())
	}
	return h.Merge(b.tracker.Hooks()).Merge(listener.ChunkDurationHooks())
}

func (b *Builder) attach(j *batchjob.Job) *batchjob.Job {
	if b.deps.Observers != nil {
		return b.deps.Observers.Attach(j)
	}
	return j
}

// dateRange reads startDate and endDate. Both or neither must be present.
func dateRange(params model.JobParameters) (start, end time.Time, ok bool, err error) {
	start, hasStart, err := params.GetDate(ParamStartDate)
	if err != nil {
		return start, end, false, err
	}
	end, hasEnd, err := params.GetDate(ParamEndDate)
	if err != nil {
		return start, end, false, err
	}
	if hasStart != hasEnd {
		return start, end, false, fmt.Errorf("%s and %s must be given together", ParamStartDate, ParamEndDate)
	}
	return start, end, hasStart, nil
}

// PaymentStatisticsJob builds the partitioned job. With startDate and endDate
// every day of the range is a partition. Without them the partitions are the
// payment dates of rows updated on runDate.
func (b *Builder) PaymentStatisticsJob(params model.JobParameters) (*batchjob.Job, error) {
	const op = "PaymentStatisticsJob"
	start, end, hasRange, err := dateRange(params)
	if err != nil {
		return nil, exception.NewBatchError(op, "invalid job parameters", err, false, false)
	}

	var (
		partitioner partition.Partitioner = partition.NewDailyPartitioner()
		beforeJob   []hook.JobFunc
	)
	if hasRange {
		if clearData, _ := params.GetBool(ParamClearExistingData); clearData {
			beforeJob = append(beforeJob, ClearExistingData(b.repo, start, end))
		}
	} else {
		runDate, ok, err := params.GetDate(ParamRunDate)
		if err != nil || !ok {
			return nil, exception.NewBatchError(op, fmt.Sprintf("either %s/%s or %s is required", ParamStartDate, ParamEndDate, ParamRunDate), err, false, false)
		}
		target := newTargetDates(b.settings.Location)
		partitioner = target
		beforeJob = append(beforeJob, PrepareTargetDates(b.repo, runDate, target))
		start, end = runDate, runDate
	}

	coordinator, err := partition.NewCoordinator(StatisticsStepName, partition.Config{
		StartDate:   start,
		EndDate:     end,
		WorkerCount: b.settings.WorkerCount,
		FailFast:    b.settings.FailFast,
	}, partitioner, func(p partition.Partition) (port.Step, error) {
		return b.statisticsStep(StatisticsStepName+":"+p.Name, p.Name)
	}, partition.Dependencies{Hooks: b.stepHooks()})
	if err != nil {
		return nil, err
	}

	j, err := batchjob.New(PaymentStatisticsJobName, coordinator)
	if err != nil {
		return nil, err
	}
	for _, fn := range beforeJob {
		j.BeforeJob(fn)
	}
	return b.attach(j), nil
}

// PaymentStatisticsDailyJob builds the single-date job keyed by paymentDate.
func (b *Builder) PaymentStatisticsDailyJob(params model.JobParameters) (*batchjob.Job, error) {
	const op = "PaymentStatisticsDailyJob"
	date, ok, err := params.GetDate(ParamPaymentDate)
	if err != nil || !ok {
		return nil, exception.NewBatchError(op, fmt.Sprintf("job parameter %s is required", ParamPaymentDate), err, false, false)
	}
	step, err := b.statisticsStep(DailyStatisticsStepName, date.Format(model.DateLayout))
	if err != nil {
		return nil, err
	}
	j, err := batchjob.New(PaymentStatisticsDailyJobName, step)
	if err != nil {
		return nil, err
	}
	if clearData, _ := params.GetBool(ParamClearExistingData); clearData {
		j.BeforeJob(ClearExistingData(b.repo, date, date))
	}
	return b.attach(j), nil
}

// statisticsStep aggregates the source rows of one payment date.
func (b *Builder) statisticsStep(name, paymentDate string) (port.Step, error) {
	reader, err := keyset.NewReader[entity.PaymentSource](b.deps.DB, keyset.Config{
		Name:      "paymentSource",
		Table:     entity.PaymentSource{}.TableName(),
		KeyColumn: "id",
		PageSize:  b.settings.PageSize,
		Where:     "payment_date = ?",
		Args:      []any{paymentDate},
		RateLimit: b.settings.PageRateLimit,
	}, func(p entity.PaymentSource) int64 { return p.ID })
	if err != nil {
		return nil, err
	}
	policy, err := skip.LimitByName(b.settings.SkipLimit, b.settings.SkippableKinds...)
	if err != nil {
		return nil, err
	}
	return item.NewChunkStep[entity.PaymentSource, entity.DailyKey](name,
		item.Config{ChunkSize: b.settings.ChunkSize, SkipPolicy: policy, RetryPolicy: b.retryPolicy()},
		reader, processor.NewPaymentProcessor(), writer.NewStatisticsWriter(b.repo),
		item.Dependencies{TxManager: b.deps.TxManager, Checkpoints: b.deps.Checkpoints, Hooks: b.stepHooks()})
}

// PaymentReportJob builds the job settling the source rows of paymentDate into
// the payment table at their final amount. The CLI runs it with a run.id
// parameter, so each run is a new instance unless it resumes a failed one.
func (b *Builder) PaymentReportJob(params model.JobParameters) (*batchjob.Job, error) {
	const op = "PaymentReportJob"
	date, ok, err := params.GetDate(ParamPaymentDate)
	if err != nil || !ok {
		return nil, exception.NewBatchError(op, fmt.Sprintf("job parameter %s is required", ParamPaymentDate), err, false, false)
	}
	reader, err := keyset.NewReader[entity.PaymentSource](b.deps.DB, keyset.Config{
		Name:      "paymentSource",
		Table:     entity.PaymentSource{}.TableName(),
		KeyColumn: "id",
		PageSize:  b.settings.PageSize,
		Where:     "payment_date = ?",
		Args:      []any{date.Format(model.DateLayout)},
		RateLimit: b.settings.PageRateLimit,
	}, func(p entity.PaymentSource) int64 { return p.ID })
	if err != nil {
		return nil, err
	}
	policy, err := skip.LimitByName(b.settings.SkipLimit, b.settings.SkippableKinds...)
	if err != nil {
		return nil, err
	}
	step, err := item.NewChunkStep[entity.PaymentSource, entity.Payment](ReportStepName,
		item.Config{ChunkSize: b.settings.ChunkSize, SkipPolicy: policy, RetryPolicy: b.retryPolicy()},
		reader, processor.NewReportProcessor(), writer.NewPaymentWriter(b.deps.DB),
		item.Dependencies{TxManager: b.deps.TxManager, Checkpoints: b.deps.Checkpoints, Hooks: b.stepHooks()})
	if err != nil {
		return nil, err
	}
	j, err := batchjob.New(PaymentReportJobName, step)
	if err != nil {
		return nil, err
	}
	return b.attach(j), nil
}

// ExportJob builds the job writing the statistics of [startDate, endDate] as Parquet.
func (b *Builder) ExportJob(params model.JobParameters) (*batchjob.Job, error) {
	const op = "ExportJob"
	start, end, ok, err := dateRange(params)
	if err != nil || !ok {
		return nil, exception.NewBatchError(op, fmt.Sprintf("job parameters %s and %s are required", ParamStartDate, ParamEndDate), err, false, false)
	}
	if b.deps.Storage == nil {
		return nil, exception.NewBatchError(op, "export requires a storage connection", nil, false, false)
	}

	reader, err := keyset.NewReader[entity.PaymentDailyStatistics](b.deps.DB, keyset.Config{
		Name:      "dailyStatistics",
		Table:     entity.PaymentDailyStatistics{}.TableName(),
		KeyColumn: "id",
		PageSize:  b.settings.PageSize,
		Where:     "payment_date >= ? AND payment_date <= ?",
		Args:      []any{start.Format(model.DateLayout), end.Format(model.DateLayout)},
		RateLimit: b.settings.PageRateLimit,
	}, func(s entity.PaymentDailyStatistics) int64 { return s.ID })
	if err != nil {
		return nil, err
	}
	prefix := b.settings.ExportPrefix
	if prefix == "" {
		prefix = entity.PaymentDailyStatistics{}.TableName()
	}
	w, err := parquet.NewWriter[entity.DailyStatisticsRecord](parquet.Config{
		Name:            ExportStepName,
		OutputBaseDir:   prefix,
		CompressionType: "SNAPPY",
	}, b.deps.Storage,
		func(r entity.DailyStatisticsRecord) (string, error) { return r.PaymentDate, nil },
		ExportFileName)
	if err != nil {
		return nil, err
	}
	step, err := item.NewChunkStep[entity.PaymentDailyStatistics, entity.DailyStatisticsRecord](ExportStepName,
		item.Config{ChunkSize: b.settings.ChunkSize, RetryPolicy: b.retryPolicy()},
		reader, processor.NewExportProcessor(), w,
		item.Dependencies{TxManager: b.deps.TxManager, Checkpoints: b.deps.Checkpoints, Hooks: b.stepHooks()})
	if err != nil {
		return nil, err
	}
	j, err := batchjob.New(ExportJobName, step)
	if err != nil {
		return nil, err
	}
	return b.attach(j), nil
}

// ExportFileName names the object of a chunk after its first row, so a replayed
// chunk overwrites the same object.
func ExportFileName(_ string, records []entity.DailyStatisticsRecord) string {
	return fmt.Sprintf("part-%08d.parquet", records[0].ID)
}
