// Package entity holds the tables and records of the payment statistics jobs.
package entity

import (
	"errors"
	"time"

	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"
)

// ErrInvalidPaymentAmount marks a payment source row that cannot be aggregated.
var ErrInvalidPaymentAmount = errors.New("invalid payment amount")

// InvalidPaymentAmountKind is the name of ErrInvalidPaymentAmount in skippable_exceptions.
const InvalidPaymentAmountKind = "InvalidPaymentAmount"

func init() {
	exception.RegisterErrorType(InvalidPaymentAmountKind, ErrInvalidPaymentAmount)
}

// PaymentSource is one payment. PaymentDate is the ISO date (YYYY-MM-DD) of
// PaymentDateTime in the configured timezone.
type PaymentSource struct {
	ID                         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CorpName                   string    `gorm:"column:corp_name"`
	BusinessRegistrationNumber string    `gorm:"column:business_registration_number"`
	Amount                     int64     `gorm:"column:amount"`
	DiscountAmount             int64     `gorm:"column:discount_amount"`
	PaymentDateTime            time.Time `gorm:"column:payment_date_time"`
	PaymentDate                string    `gorm:"column:payment_date"`
	CreatedAt                  time.Time `gorm:"column:created_at"`
	UpdatedAt                  time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for PaymentSource.
func (PaymentSource) TableName() string {
	return "payment_source"
}

// Valid reports whether the row takes part in the daily total.
func (p PaymentSource) Valid() bool {
	return p.DiscountAmount >= 0
}

// FinalAmount is the amount charged after the discount.
func (p PaymentSource) FinalAmount() int64 {
	return p.Amount - p.DiscountAmount
}

// PaymentStatusPayment is the status of a payment settled from its source row.
const PaymentStatusPayment = "PAYMENT"

// Payment is the settled form of one payment source row. PaymentSourceID is unique.
type Payment struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PaymentSourceID int64     `gorm:"column:payment_source_id"`
	CorpName        string    `gorm:"column:corp_name"`
	Amount          int64     `gorm:"column:amount"`
	PaymentDate     string    `gorm:"column:payment_date"`
	Status          string    `gorm:"column:status"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for Payment.
func (Payment) TableName() string {
	return "payment"
}

// NewPayment settles a source row at its final amount.
func NewPayment(p PaymentSource) Payment {
	return Payment{
		PaymentSourceID: p.ID,
		CorpName:        p.CorpName,
		Amount:          p.FinalAmount(),
		PaymentDate:     p.PaymentDate,
		Status:          PaymentStatusPayment,
	}
}

// PaymentDailyStatistics is the total of one business on one day. The pair
// (BusinessRegistrationNumber, PaymentDate) is unique.
type PaymentDailyStatistics struct {
	ID                         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CorpName                   string    `gorm:"column:corp_name"`
	BusinessRegistrationNumber string    `gorm:"column:business_registration_number"`
	Amount                     int64     `gorm:"column:amount"`
	PaymentDate                string    `gorm:"column:payment_date"`
	CreatedAt                  time.Time `gorm:"column:created_at"`
	UpdatedAt                  time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for PaymentDailyStatistics.
func (PaymentDailyStatistics) TableName() string {
	return "payment_daily_statistics"
}

// DailyKey identifies one row of payment_daily_statistics.
type DailyKey struct {
	BusinessRegistrationNumber string
	PaymentDate                string
	CorpName                   string
}

// KeyOf returns the daily key a source row contributes to.
func KeyOf(p PaymentSource) DailyKey {
	return DailyKey{
		BusinessRegistrationNumber: p.BusinessRegistrationNumber,
		PaymentDate:                p.PaymentDate,
		CorpName:                   p.CorpName,
	}
}

// DailyStatisticsRecord is the exported form of PaymentDailyStatistics.
type DailyStatisticsRecord struct {
	ID                         int64  `parquet:"name=id, type=INT64"`
	CorpName                   string `parquet:"name=corp_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	BusinessRegistrationNumber string `parquet:"name=business_registration_number, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount                     int64  `parquet:"name=amount, type=INT64"`
	PaymentDate                string `parquet:"name=payment_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	UpdatedAt                  int64  `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// NewDailyStatisticsRecord maps a statistics row to its exported form.
func NewDailyStatisticsRecord(s PaymentDailyStatistics) DailyStatisticsRecord {
	return DailyStatisticsRecord{
		ID:                         s.ID,
		CorpName:                   s.CorpName,
		BusinessRegistrationNumber: s.BusinessRegistrationNumber,
		Amount:                     s.Amount,
		PaymentDate:                s.PaymentDate,
		UpdatedAt:                  s.UpdatedAt.UnixMilli(),
	}
}
