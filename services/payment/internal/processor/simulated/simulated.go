// Package simulated is an in-process gateway for development and tests. It
// keeps its transactions in memory and decides outcomes from the amount:
//
//	amount % 100 == 2  declined
//	amount % 100 == 3  challenge, settled later through Complete
//	amount % 100 == 4  hangs until the caller's context expires
//	otherwise          succeeded
package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

// Name is the processor name of the simulated gateway.
const Name = "simulated"

// Amount endings that select an outcome.
const (
	DeclineSuffix   = 2
	ChallengeSuffix = 3
	HangSuffix      = 4
)

// Webhook event types sent by Complete and Refund.
const (
	eventPayment = "payment"
	eventRefund  = "refund"
)

type transaction struct {
	id        string
	reference string
	amount    int64
	refunded  int64
	status    string
}

// Processor simulates a card-like gateway.
type Processor struct {
	secret  string
	latency time.Duration

	mu           sync.Mutex
	transactions map[string]*transaction
}

var _ processor.Processor = (*Processor)(nil)

// New creates a simulated gateway signing webhooks with secret. Every call
// waits latency before answering.
func New(secret string, latency time.Duration) *Processor {
	return &Processor{
		secret:       secret,
		latency:      latency,
		transactions: make(map[string]*transaction),
	}
}

// Name returns the processor name.
func (p *Processor) Name() string { return Name }

func (p *Processor) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(p.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return apperrors.GatewayUnavailable(Name, ctx.Err())
	}
}

// ProcessPayment records a transaction and answers according to the amount.
func (p *Processor) ProcessPayment(ctx context.Context, req *processor.PaymentRequest) (*processor.PaymentResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	txn := &transaction{
		id:        "sim_pay_" + uuid.New().String(),
		reference: req.Reference,
		amount:    req.Amount,
	}
	result := &processor.PaymentResult{TransactionID: txn.id}

	switch req.Amount % 100 {
	case DeclineSuffix:
		txn.status = domain.PaymentStatusFailed
		result.FailureReason = "simulated decline"
	case ChallengeSuffix:
		txn.status = domain.PaymentStatusAuthorized
		result.NextAction = &domain.NextAction{Type: domain.NextActionChallenge, URL: "https://simulated.local/challenge/" + txn.id}
	case HangSuffix:
		// The transaction exists on the gateway side even though the caller
		// never hears back.
		txn.status = domain.PaymentStatusAuthorized
		p.store(txn)
		<-ctx.Done()
		return nil, apperrors.GatewayUnavailable(Name, ctx.Err())
	default:
		txn.status = domain.PaymentStatusSucceeded
	}
	p.store(txn)

	result.Status = txn.status
	result.Success = txn.status == domain.PaymentStatusSucceeded
	result.Raw = p.snapshot(txn)
	return result, nil
}

// RefundPayment refunds amount, or the remaining balance when amount is nil.
func (p *Processor) RefundPayment(ctx context.Context, transactionID string, amount *int64) (*processor.RefundResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	txn, ok := p.transactions[transactionID]
	if !ok {
		return nil, apperrors.NotFound("simulated transaction", transactionID)
	}
	if txn.status != domain.PaymentStatusSucceeded {
		return nil, apperrors.GatewayDeclined(Name, "transaction "+txn.status+" cannot be refunded")
	}
	remaining := txn.amount - txn.refunded
	refund := remaining
	if amount != nil {
		refund = *amount
	}
	if refund <= 0 || refund > remaining {
		return nil, apperrors.GatewayDeclined(Name, fmt.Sprintf("refund %d exceeds remaining %d", refund, remaining))
	}
	txn.refunded += refund

	return &processor.RefundResult{
		RefundID: "sim_ref_" + uuid.New().String(),
		Status:   domain.RefundStatusSucceeded,
		Amount:   refund,
	}, nil
}

// GetPaymentStatus returns the gateway-side status of a transaction.
func (p *Processor) GetPaymentStatus(ctx context.Context, transactionID string) (*processor.StatusResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	txn, ok := p.transactions[transactionID]
	if !ok {
		return nil, apperrors.NotFound("simulated transaction", transactionID)
	}
	return &processor.StatusResult{TransactionID: txn.id, Status: txn.status, Raw: p.snapshotLocked(txn)}, nil
}

// ValidateWebhookSignature checks the hex HMAC of the body.
func (p *Processor) ValidateWebhookSignature(signature string, rawBody []byte) bool {
	return processor.VerifySignature(p.secret, signature, rawBody)
}

// Webhook is the body the simulated gateway posts.
type Webhook struct {
	EventID       string `json:"event_id"`
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference,omitempty"`
	Status        string `json:"status"`
	RefundID      string `json:"refund_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
}

// ParseWebhookEvent decodes a body produced by Complete or RefundWebhook.
func (p *Processor) ParseWebhookEvent(rawBody []byte) (*processor.WebhookEvent, error) {
	var hook Webhook
	if err := json.Unmarshal(rawBody, &hook); err != nil {
		return nil, apperrors.InvalidInput("malformed simulated webhook: " + err.Error())
	}
	if hook.EventID == "" || hook.TransactionID == "" {
		return nil, apperrors.InvalidInput("simulated webhook requires event_id and transaction_id")
	}

	evt := &processor.WebhookEvent{
		EventID:       hook.EventID,
		TransactionID: hook.TransactionID,
		Reference:     hook.Reference,
		Status:        hook.Status,
		Payload:       rawBody,
	}
	switch hook.Type {
	case eventPayment:
		if !domain.IsValidPaymentStatus(hook.Status) {
			return nil, apperrors.InvalidInput("unknown payment status " + hook.Status)
		}
		evt.EventType = processor.EventPaymentUpdated
	case eventRefund:
		if !domain.IsValidRefundStatus(hook.Status) || hook.RefundID == "" {
			return nil, apperrors.InvalidInput("simulated refund webhook requires refund_id and a refund status")
		}
		evt.EventType = processor.EventRefundUpdated
		evt.RefundID = hook.RefundID
		evt.Amount = hook.Amount
	default:
		return nil, apperrors.InvalidInput("unknown simulated event type " + hook.Type)
	}
	return evt, nil
}

// Complete settles an authorized transaction and returns the signed webhook
// the gateway would deliver for it.
func (p *Processor) Complete(transactionID string, succeed bool) (body []byte, signature string, err error) {
	p.mu.Lock()
	txn, ok := p.transactions[transactionID]
	if !ok {
		p.mu.Unlock()
		return nil, "", apperrors.NotFound("simulated transaction", transactionID)
	}
	if txn.status == domain.PaymentStatusAuthorized {
		txn.status = domain.PaymentStatusFailed
		if succeed {
			txn.status = domain.PaymentStatusSucceeded
		}
	}
	hook := Webhook{
		EventID:       "sim_evt_" + uuid.New().String(),
		Type:          eventPayment,
		TransactionID: txn.id,
		Reference:     txn.reference,
		Status:        txn.status,
	}
	p.mu.Unlock()

	return p.sign(hook)
}

// RefundWebhook returns a signed refund webhook for a refund the gateway
// initiated on its own, such as a chargeback.
func (p *Processor) RefundWebhook(transactionID string, amount int64) (body []byte, signature string, err error) {
	p.mu.Lock()
	txn, ok := p.transactions[transactionID]
	if !ok {
		p.mu.Unlock()
		return nil, "", apperrors.NotFound("simulated transaction", transactionID)
	}
	txn.refunded += amount
	p.mu.Unlock()

	return p.sign(Webhook{
		EventID:       "sim_evt_" + uuid.New().String(),
		Type:          eventRefund,
		TransactionID: transactionID,
		Status:        domain.RefundStatusSucceeded,
		RefundID:      "sim_ref_" + uuid.New().String(),
		Amount:        amount,
	})
}

// TransactionByReference finds the transaction created for a payment attempt.
func (p *Processor) TransactionByReference(reference string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, txn := range p.transactions {
		if txn.reference == reference {
			return id, true
		}
	}
	return "", false
}

func (p *Processor) sign(hook Webhook) ([]byte, string, error) {
	body, err := json.Marshal(hook)
	if err != nil {
		return nil, "", fmt.Errorf("marshal simulated webhook: %w", err)
	}
	return body, processor.Sign(p.secret, body), nil
}

func (p *Processor) store(txn *transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactions[txn.id] = txn
}

func (p *Processor) snapshot(txn *transaction) json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(txn)
}

func (p *Processor) snapshotLocked(txn *transaction) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"id":        txn.id,
		"reference": txn.reference,
		"amount":    txn.amount,
		"refunded":  txn.refunded,
		"status":    txn.status,
	})
	return raw
}
