// Package writer holds the item writers of the payment jobs.
package writer

import (
	"context"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/domain/entity"
	"github.com/tigerroll/seekbatch/example/payment/internal/repository"
)

// StatisticsWriter recomputes the daily total of every key in a chunk from the
// valid source rows. A new key is inserted and an existing one is updated only
// when its amount changed, so writing the same keys again changes nothing.
type StatisticsWriter struct {
	repo *repository.PaymentRepository
}

// NewStatisticsWriter creates a StatisticsWriter.
func NewStatisticsWriter(repo *repository.PaymentRepository) *StatisticsWriter {
	return &StatisticsWriter{repo: repo}
}

// Open implements port.ItemWriter.
func (w *StatisticsWriter) Open(context.Context) error { return nil }

// Close implements port.ItemWriter.
func (w *StatisticsWriter) Close(context.Context) error { return nil }

// Write implements port.ItemWriter.
func (w *StatisticsWriter) Write(ctx context.Context, keys []entity.DailyKey) error {
	var inserted, updated, unchanged int
	seen := make(map[entity.DailyKey]struct{}, len(keys))
	for i, key := range keys {
		id := entity.DailyKey{BusinessRegistrationNumber: key.BusinessRegistrationNumber, PaymentDate: key.PaymentDate}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		changed, created, err := w.recover(ctx, key)
		if err != nil {
			return &port.ItemWriteError{Index: i, Err: err}
		}
		switch {
		case created:
			inserted++
		case changed:
			updated++
		default:
			unchanged++
		}
	}
	logger.Debugf("StatisticsWriter: %d keys (inserted=%d, updated=%d, unchanged=%d).", len(seen), inserted, updated, unchanged)
	return nil
}

func (w *StatisticsWriter) recover(ctx context.Context, key entity.DailyKey) (changed, created bool, err error) {
	total, err := w.repo.SumValidAmount(ctx, key)
	if err != nil {
		return false, false, err
	}
	existing, err := w.repo.FindStatistics(ctx, key)
	if err != nil {
		return false, false, err
	}
	if existing == nil {
		return true, true, w.repo.CreateStatistics(ctx, &entity.PaymentDailyStatistics{
			CorpName:                   key.CorpName,
			BusinessRegistrationNumber: key.BusinessRegistrationNumber,
			Amount:                     total,
			PaymentDate:                key.PaymentDate,
		})
	}
	if existing.Amount == total {
		return false, false, nil
	}
	logger.Debugf("StatisticsWriter: %s on %s changed from %d to %d.", key.BusinessRegistrationNumber, key.PaymentDate, existing.Amount, total)
	return true, false, w.repo.UpdateAmount(ctx, existing.ID, total, key.CorpName)
}

var _ port.ItemWriter[entity.DailyKey] = (*StatisticsWriter)(nil)
