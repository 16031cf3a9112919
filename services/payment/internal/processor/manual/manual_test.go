package manual

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

func TestProcessPayment(t *testing.T) {
	p := New()

	res, err := p.ProcessPayment(context.Background(), &processor.PaymentRequest{Amount: 4200, Currency: "USD"})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.PaymentStatusSucceeded, res.Status)
	assert.True(t, strings.HasPrefix(res.TransactionID, "cash_"))

	_, err = p.ProcessPayment(context.Background(), &processor.PaymentRequest{Amount: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRefundPayment(t *testing.T) {
	p := New()
	amount := int64(1000)

	res, err := p.RefundPayment(context.Background(), "cash_abc", &amount)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.RefundID, "cash_ref_"))
	assert.Equal(t, domain.RefundStatusSucceeded, res.Status)
	assert.Equal(t, amount, res.Amount)

	_, err = p.RefundPayment(context.Background(), "cash_abc", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = p.RefundPayment(context.Background(), "ch_1", &amount)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetPaymentStatus(t *testing.T) {
	p := New()

	res, err := p.GetPaymentStatus(context.Background(), "cash_abc")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSucceeded, res.Status)

	_, err = p.GetPaymentStatus(context.Background(), "in_1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWebhooksAreRejected(t *testing.T) {
	p := New()

	assert.False(t, p.ValidateWebhookSignature(processor.Sign("x", []byte("{}")), []byte("{}")))
	_, err := p.ParseWebhookEvent([]byte(`{}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
