// Package repository runs the SQL of the payment statistics jobs. Every method
// joins the chunk transaction carried by ctx when there is one.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/domain/entity"
)

// PaymentRepository reads payment_source and maintains payment_daily_statistics.
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a PaymentRepository.
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// DB returns the connection the repository was created with.
func (r *PaymentRepository) DB() *gorm.DB {
	return r.db
}

func (r *PaymentRepository) conn(ctx context.Context) *gorm.DB {
	return gormadapter.DBFromContext(ctx, r.db)
}

// SumValidAmount totals the valid source rows of key.
func (r *PaymentRepository) SumValidAmount(ctx context.Context, key entity.DailyKey) (int64, error) {
	var total int64
	err := r.conn(ctx).Model(&entity.PaymentSource{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("business_registration_number = ? AND payment_date = ? AND discount_amount >= 0",
			key.BusinessRegistrationNumber, key.PaymentDate).
		Row().Scan(&total)
	if err != nil {
		return 0, exception.NewBatchError("repository", "failed to sum payment amounts", err, false, true)
	}
	return total, nil
}

// FindStatistics returns the statistics row of key, or nil when there is none.
func (r *PaymentRepository) FindStatistics(ctx context.Context, key entity.DailyKey) (*entity.PaymentDailyStatistics, error) {
	var stat entity.PaymentDailyStatistics
	err := r.conn(ctx).
		Where("business_registration_number = ? AND payment_date = ?", key.BusinessRegistrationNumber, key.PaymentDate).
		Take(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError("repository", "failed to find daily statistics", err, false, true)
	}
	return &stat, nil
}

// CreateStatistics inserts stat.
func (r *PaymentRepository) CreateStatistics(ctx context.Context, stat *entity.PaymentDailyStatistics) error {
	if err := r.conn(ctx).Create(stat).Error; err != nil {
		return exception.NewBatchError("repository", "failed to insert daily statistics", err, false, false)
	}
	return nil
}

// UpdateAmount sets the amount and corporation name of the statistics row id.
func (r *PaymentRepository) UpdateAmount(ctx context.Context, id int64, amount int64, corpName string) error {
	err := r.conn(ctx).Model(&entity.PaymentDailyStatistics{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"amount": amount, "corp_name": corpName, "updated_at": time.Now()}).Error
	if err != nil {
		return exception.NewBatchError("repository", "failed to update daily statistics", err, false, false)
	}
	return nil
}

// DeleteStatisticsBetween deletes the statistics of the inclusive ISO date range.
func (r *PaymentRepository) DeleteStatisticsBetween(ctx context.Context, startDate, endDate string) (int64, error) {
	res := r.conn(ctx).
		Where("payment_date >= ? AND payment_date <= ?", startDate, endDate).
		Delete(&entity.PaymentDailyStatistics{})
	if res.Error != nil {
		return 0, exception.NewBatchError("repository", "failed to delete daily statistics", res.Error, false, false)
	}
	logger.Infof("PaymentRepository: Deleted %d daily statistics rows between %s and %s.", res.RowsAffected, startDate, endDate)
	return res.RowsAffected, nil
}

// PaymentDatesUpdatedBetween returns the distinct payment dates of source rows
// updated in [from, to), in ascending order.
func (r *PaymentRepository) PaymentDatesUpdatedBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	var dates []string
	err := r.conn(ctx).Model(&entity.PaymentSource{}).
		Distinct("payment_date").
		Where("updated_at >= ? AND updated_at < ?", from.UTC(), to.UTC()).
		Order("payment_date").
		Pluck("payment_date", &dates).Error
	if err != nil {
		return nil, exception.NewBatchError("repository", "failed to collect target payment dates", err, false, true)
	}
	return dates, nil
}
