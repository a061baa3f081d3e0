// Package processor holds the item processors of the payment jobs.
package processor

import (
	"context"
	"fmt"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/exception"

	"github.com/tigerroll/seekbatch/example/payment/internal/domain/entity"
)

// PaymentProcessor maps payment source rows to the daily key they contribute to.
// Rows with a negative discount are reported as ErrInvalidPaymentAmount.
type PaymentProcessor struct{}

// NewPaymentProcessor creates a PaymentProcessor.
func NewPaymentProcessor() *PaymentProcessor {
	return &PaymentProcessor{}
}

// Process implements port.ItemProcessor.
func (p *PaymentProcessor) Process(_ context.Context, item entity.PaymentSource) port.Result[entity.DailyKey] {
	if !item.Valid() {
		return port.Skip[entity.DailyKey](exception.NewSkippableError("processor", entity.ErrInvalidPaymentAmount,
			fmt.Sprintf("payment %d has a negative discount amount %d", item.ID, item.DiscountAmount)))
	}
	return port.Ok(entity.KeyOf(item))
}

var _ port.ItemProcessor[entity.PaymentSource, entity.DailyKey] = (*PaymentProcessor)(nil)

// ReportProcessor settles payment source rows. Rows with a negative discount
// are reported as ErrInvalidPaymentAmount and rows whose final amount is zero
// are filtered.
type ReportProcessor struct{}

// NewReportProcessor creates a ReportProcessor.
func NewReportProcessor() *ReportProcessor {
	return &ReportProcessor{}
}

// Process implements port.ItemProcessor.
func (p *ReportProcessor) Process(_ context.Context, item entity.PaymentSource) port.Result[entity.Payment] {
	if !item.Valid() {
		return port.Skip[entity.Payment](exception.NewSkippableError("processor", entity.ErrInvalidPaymentAmount,
			fmt.Sprintf("payment %d has a negative discount amount %d", item.ID, item.DiscountAmount)))
	}
	if item.FinalAmount() == 0 {
		return port.Drop[entity.Payment]()
	}
	return port.Ok(entity.NewPayment(item))
}

var _ port.ItemProcessor[entity.PaymentSource, entity.Payment] = (*ReportProcessor)(nil)

// NewExportProcessor maps statistics rows to their exported form.
func NewExportProcessor() port.ItemProcessor[entity.PaymentDailyStatistics, entity.DailyStatisticsRecord] {
	return port.ProcessorFunc[entity.PaymentDailyStatistics, entity.DailyStatisticsRecord](
		func(_ context.Context, s entity.PaymentDailyStatistics) port.Result[entity.DailyStatisticsRecord] {
			return port.Ok(entity.NewDailyStatisticsRecord(s))
		})
}
