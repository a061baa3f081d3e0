package writer

import (
	"context"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/seekbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/seekbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/seekbatch/example/payment/internal/domain/entity"
)

var paymentUpdateColumns = []string{"corp_name", "amount", "payment_date", "status", "updated_at"}

// PaymentWriter upserts settled payments keyed by their source row, so a
// replayed chunk rewrites the same rows.
type PaymentWriter struct {
	db      *gorm.DB
	written int64
}

// NewPaymentWriter creates a PaymentWriter.
func NewPaymentWriter(db *gorm.DB) *PaymentWriter {
	return &PaymentWriter{db: db}
}

// Open implements port.ItemWriter.
func (w *PaymentWriter) Open(context.Context) error { return nil }

// Close implements port.ItemWriter.
func (w *PaymentWriter) Close(context.Context) error {
	logger.Infof("PaymentWriter: %d payments written.", w.written)
	return nil
}

// Write implements port.ItemWriter. It joins the chunk transaction carried by ctx.
func (w *PaymentWriter) Write(ctx context.Context, payments []entity.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	rows := append([]entity.Payment(nil), payments...)
	n, err := gormadapter.ExecutorFromContext(ctx, w.db).
		ExecuteUpsert(ctx, &rows, entity.Payment{}.TableName(), []string{"payment_source_id"}, paymentUpdateColumns)
	if err != nil {
		return err
	}
	w.written += int64(len(rows))
	logger.Debugf("PaymentWriter: Upserted %d payments (%d rows affected).", len(rows), n)
	return nil
}

var _ port.ItemWriter[entity.Payment] = (*PaymentWriter)(nil)
