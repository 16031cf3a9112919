// Package manual records cash and pay-on-delivery payments. Nothing leaves
// the process: payments succeed at once and refunds are settled locally.
package manual

import (
	"context"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

// Name is the processor name of manual payments.
const Name = "manual"

const (
	transactionPrefix = "cash_"
	refundPrefix      = "cash_ref_"
)

// Processor settles manual payments.
type Processor struct{}

var _ processor.Processor = (*Processor)(nil)

// New creates a manual processor.
func New() *Processor {
	return &Processor{}
}

// Name returns the processor name.
func (p *Processor) Name() string { return Name }

// ProcessPayment accepts the payment with a locally generated transaction id.
func (p *Processor) ProcessPayment(_ context.Context, req *processor.PaymentRequest) (*processor.PaymentResult, error) {
	if req.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount must be positive")
	}
	return &processor.PaymentResult{
		Success:       true,
		TransactionID: transactionPrefix + uuid.New().String(),
		Status:        domain.PaymentStatusSucceeded,
	}, nil
}

// RefundPayment settles a refund immediately. Manual refunds always name an
// amount since no gateway tracks the balance.
func (p *Processor) RefundPayment(_ context.Context, transactionID string, amount *int64) (*processor.RefundResult, error) {
	if !isManual(transactionID) {
		return nil, apperrors.NotFound("manual payment", transactionID)
	}
	if amount == nil || *amount <= 0 {
		return nil, apperrors.InvalidInput("manual refunds require a positive amount")
	}
	return &processor.RefundResult{
		RefundID: refundPrefix + uuid.New().String(),
		Status:   domain.RefundStatusSucceeded,
		Amount:   *amount,
	}, nil
}

// GetPaymentStatus reports every manual payment as succeeded.
func (p *Processor) GetPaymentStatus(_ context.Context, transactionID string) (*processor.StatusResult, error) {
	if !isManual(transactionID) {
		return nil, apperrors.NotFound("manual payment", transactionID)
	}
	return &processor.StatusResult{TransactionID: transactionID, Status: domain.PaymentStatusSucceeded}, nil
}

// ValidateWebhookSignature rejects everything; manual payments have no callbacks.
func (p *Processor) ValidateWebhookSignature(string, []byte) bool {
	return false
}

// ParseWebhookEvent always fails.
func (p *Processor) ParseWebhookEvent([]byte) (*processor.WebhookEvent, error) {
	return nil, apperrors.InvalidInput("manual payments do not send webhooks")
}

func isManual(transactionID string) bool {
	return strings.HasPrefix(transactionID, transactionPrefix) && !strings.HasPrefix(transactionID, refundPrefix)
}
