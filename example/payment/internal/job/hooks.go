package job

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/seekbatch/pkg/batch/core/hook"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/partition"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/repository"
)

// ClearExistingData deletes the statistics of [startDate, endDate] once per job
// instance. The deletion is recorded under existingDataCleared in the job
// ExecutionContext, which a restart inherits, so partitions that completed
// before the restart keep their rows. An attempt that failed before the flag
// was saved clears again.
func ClearExistingData(repo *repository.PaymentRepository, startDate, endDate time.Time) hook.JobFunc {
	return func(ctx context.Context, je *model.JobExecution) error {
		if done, _ := je.ExecutionContext.GetBool(ContextKeyExistingDataCleared); done {
			logger.Infof("ClearExistingData: Instance %s already cleared its statistics (restart %d).", je.InstanceKey, je.RestartCount)
			return nil
		}
		deleted, err := repo.DeleteStatisticsBetween(ctx, startDate.Format(model.DateLayout), endDate.Format(model.DateLayout))
		if err != nil {
			return err
		}
		je.ExecutionContext.Put(ContextKeyClearedRows, deleted)
		je.ExecutionContext.Put(ContextKeyExistingDataCleared, true)
		return nil
	}
}

// targetDates is the partition source of a run without an explicit range. It is
// filled by PrepareTargetDates before the partition step starts.
type targetDates struct {
	loc *time.Location

	mu    sync.Mutex
	dates []string
}

func newTargetDates(loc *time.Location) *targetDates {
	return &targetDates{loc: loc}
}

func (t *targetDates) set(dates []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dates = append([]string(nil), dates...)
	sort.Strings(t.dates)
}

// Partition implements partition.Partitioner. The range bounds are ignored.
func (t *targetDates) Partition(_ context.Context, _, _ time.Time) ([]partition.Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	partitions := make([]partition.Partition, 0, len(t.dates))
	for _, d := range t.dates {
		day, err := time.ParseInLocation(model.DateLayout, d, t.loc)
		if err != nil {
			return nil, exception.NewBatchError("partition", "invalid target payment date "+d, err, false, false)
		}
		ec := model.NewExecutionContext()
		ec.PutDate(partition.ContextKeyPartitionDate, day)
		partitions = append(partitions, partition.Partition{Name: d, Date: day, Context: ec})
	}
	return partitions, nil
}

// PrepareTargetDates collects the payment dates of source rows updated on
// runDate and stores them, sorted and comma-joined, under targetPaymentDates.
func PrepareTargetDates(repo *repository.PaymentRepository, runDate time.Time, target *targetDates) hook.JobFunc {
	return func(ctx context.Context, je *model.JobExecution) error {
		y, m, d := runDate.Date()
		from := time.Date(y, m, d, 0, 0, 0, 0, target.loc)
		dates, err := repo.PaymentDatesUpdatedBetween(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		target.set(dates)
		sorted := append([]string(nil), dates...)
		sort.Strings(sorted)
		je.ExecutionContext.Put(ContextKeyTargetPaymentDates, strings.Join(sorted, ","))
		logger.Infof("PrepareTargetDates: %d payment dates updated on %s: %v", len(dates), from.Format(model.DateLayout), dates)
		return nil
	}
}
