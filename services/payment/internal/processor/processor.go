// Package processor defines the capability every payment gateway integration
// provides and the registry the orchestrator selects them from.
package processor

import (
	"context"
	"encoding/json"

	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

// Processor executes payments against one gateway. Statuses in results use
// the domain payment and refund status constants.
type Processor interface {
	// Name identifies the processor in payment rows and webhook routes.
	Name() string

	// ProcessPayment asks the gateway to collect req.Amount. A declined
	// payment is a result with status failed, not an error; errors mean the
	// outcome is unknown.
	ProcessPayment(ctx context.Context, req *PaymentRequest) (*PaymentResult, error)

	// RefundPayment refunds amount, or everything still refundable when
	// amount is nil.
	RefundPayment(ctx context.Context, transactionID string, amount *int64) (*RefundResult, error)

	// GetPaymentStatus asks the gateway for the current payment status.
	GetPaymentStatus(ctx context.Context, transactionID string) (*StatusResult, error)

	// ValidateWebhookSignature checks a webhook body against its signature
	// header before the body is parsed.
	ValidateWebhookSignature(signature string, rawBody []byte) bool

	// ParseWebhookEvent decodes a verified webhook body.
	ParseWebhookEvent(rawBody []byte) (*WebhookEvent, error)
}

// PaymentRequest is what the orchestrator sends to a processor.
type PaymentRequest struct {
	// Reference is the id of the payment attempt row. Gateways echo it in
	// webhooks, which lets a timed-out attempt be matched later.
	Reference   string
	OrderID     string
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
}

// PaymentResult is the processor's answer to a payment request.
type PaymentResult struct {
	Success       bool
	TransactionID string
	Status        string
	NextAction    *domain.NextAction
	FailureReason string
	Raw           json.RawMessage
}

// RefundResult is the processor's answer to a refund request.
type RefundResult struct {
	RefundID string
	Status   string
	Amount   int64
	Raw      json.RawMessage
}

// StatusResult is the processor's view of a payment.
type StatusResult struct {
	TransactionID string
	Status        string
	Raw           json.RawMessage
}

// Webhook event types, normalised across processors.
const (
	EventPaymentUpdated = "payment.updated"
	EventRefundUpdated  = "refund.updated"
)

// WebhookEvent is a gateway callback in processor-independent form. Status is
// a payment status for payment events and a refund status for refund events.
type WebhookEvent struct {
	EventID       string
	EventType     string
	TransactionID string
	Reference     string
	Status        string
	RefundID      string
	Amount        int64
	Payload       json.RawMessage
}
