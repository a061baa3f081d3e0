package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/seekbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/seekbatch/pkg/batch/engine/step/skip"

	"github.com/tigerroll/seekbatch/example/payment/internal/domain/entity"
)

func TestPaymentProcessor(t *testing.T) {
	p := NewPaymentProcessor()
	ctx := context.Background()

	ok := p.Process(ctx, entity.PaymentSource{ID: 1, CorpName: "Acme", BusinessRegistrationNumber: "111", Amount: 100, PaymentDate: "2025-01-05"})
	assert.Equal(t, port.OutcomeOk, ok.Outcome)
	assert.Equal(t, entity.DailyKey{BusinessRegistrationNumber: "111", PaymentDate: "2025-01-05", CorpName: "Acme"}, ok.Item)

	zero := p.Process(ctx, entity.PaymentSource{ID: 2, DiscountAmount: 0})
	assert.Equal(t, port.OutcomeOk, zero.Outcome, "a zero discount is valid")

	bad := p.Process(ctx, entity.PaymentSource{ID: 3, DiscountAmount: -1})
	assert.Equal(t, port.OutcomeSkip, bad.Outcome)
	assert.True(t, errors.Is(bad.Err, entity.ErrInvalidPaymentAmount))
}

func TestPaymentProcessor_SkipPolicyByName(t *testing.T) {
	policy, err := skip.LimitByName(2, entity.InvalidPaymentAmountKind)
	assert.NoError(t, err)

	bad := NewPaymentProcessor().Process(context.Background(), entity.PaymentSource{ID: 3, DiscountAmount: -5})
	assert.True(t, policy.ShouldSkip(bad.Err, 0))
	assert.True(t, policy.ShouldSkip(bad.Err, 1))
	assert.False(t, policy.ShouldSkip(bad.Err, 2), "the third invalid row exceeds the limit")
}

func TestReportProcessor(t *testing.T) {
	p := NewReportProcessor()
	ctx := context.Background()

	ok := p.Process(ctx, entity.PaymentSource{ID: 7, CorpName: "Acme", Amount: 300, DiscountAmount: 10, PaymentDate: "2025-01-05"})
	assert.Equal(t, port.OutcomeOk, ok.Outcome)
	assert.Equal(t, entity.Payment{
		PaymentSourceID: 7, CorpName: "Acme", Amount: 290, PaymentDate: "2025-01-05", Status: entity.PaymentStatusPayment,
	}, ok.Item)

	free := p.Process(ctx, entity.PaymentSource{ID: 8, Amount: 50, DiscountAmount: 50})
	assert.Equal(t, port.OutcomeDrop, free.Outcome, "a zero final amount is filtered")

	bad := p.Process(ctx, entity.PaymentSource{ID: 9, Amount: 50, DiscountAmount: -1})
	assert.Equal(t, port.OutcomeSkip, bad.Outcome)
	assert.True(t, errors.Is(bad.Err, entity.ErrInvalidPaymentAmount))
}
