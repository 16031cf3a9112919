// Package wallet integrates a redirect-based wallet gateway. Every payment
// starts as an intent the customer approves on the wallet's own page; the
// outcome arrives by webhook or status query.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

// Name is the processor name of the wallet gateway.
const Name = "wallet"

// Intent states reported by the wallet.
const (
	stateAwaitingRedirect = "awaiting_redirect"
	statePending          = "pending"
	stateCompleted        = "completed"
	stateFailed           = "failed"
	stateCancelled        = "cancelled"
)

// Config holds the wallet endpoint and credentials.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// Processor executes wallet payments.
type Processor struct {
	gateway       *processor.GatewayClient
	webhookSecret string
}

var _ processor.Processor = (*Processor)(nil)

// New creates a wallet processor.
func New(cfg Config, doer processor.HTTPDoer) *Processor {
	return &Processor{
		gateway:       processor.NewGatewayClient(Name, cfg.BaseURL, cfg.APIKey, doer),
		webhookSecret: cfg.WebhookSecret,
	}
}

// Name returns the processor name.
func (p *Processor) Name() string { return Name }

type intentRequest struct {
	AmountMinor       int64  `json:"amount_minor"`
	Currency          string `json:"currency"`
	MerchantReference string `json:"merchant_reference"`
	ReturnURL         string `json:"return_url,omitempty"`
}

type intentResponse struct {
	IntentID      string `json:"intent_id"`
	State         string `json:"state"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type refundRequest struct {
	AmountMinor *int64 `json:"amount_minor,omitempty"`
}

type refundResponse struct {
	RefundID    string `json:"refund_id"`
	State       string `json:"state"`
	AmountMinor int64  `json:"amount_minor"`
}

// ProcessPayment creates an intent and hands back the approval redirect.
func (p *Processor) ProcessPayment(ctx context.Context, req *processor.PaymentRequest) (*processor.PaymentResult, error) {
	var intent intentResponse
	raw, err := p.gateway.Call(ctx, http.MethodPost, "/v1/intents", intentRequest{
		AmountMinor:       req.Amount,
		Currency:          strings.ToUpper(req.Currency),
		MerchantReference: req.Reference,
		ReturnURL:         req.ReturnURL,
	}, &intent)
	if err != nil {
		return nil, mapError(err, req.Reference)
	}

	status := intentStatus(intent.State)
	result := &processor.PaymentResult{
		Success:       status == domain.PaymentStatusSucceeded,
		TransactionID: intent.IntentID,
		Status:        status,
		Raw:           raw,
	}
	switch status {
	case domain.PaymentStatusAuthorized:
		result.NextAction = &domain.NextAction{Type: domain.NextActionRedirect, URL: intent.RedirectURL}
	case domain.PaymentStatusFailed:
		result.FailureReason = intent.FailureReason
		if result.FailureReason == "" {
			result.FailureReason = "wallet intent " + intent.State
		}
	}
	return result, nil
}

// RefundPayment refunds a completed intent.
func (p *Processor) RefundPayment(ctx context.Context, transactionID string, amount *int64) (*processor.RefundResult, error) {
	var refund refundResponse
	raw, err := p.gateway.Call(ctx, http.MethodPost,
		"/v1/intents/"+url.PathEscape(transactionID)+"/refunds", refundRequest{AmountMinor: amount}, &refund)
	if err != nil {
		return nil, mapError(err, transactionID)
	}
	return &processor.RefundResult{
		RefundID: refund.RefundID,
		Status:   refundStatus(refund.State),
		Amount:   refund.AmountMinor,
		Raw:      raw,
	}, nil
}

// GetPaymentStatus reads an intent.
func (p *Processor) GetPaymentStatus(ctx context.Context, transactionID string) (*processor.StatusResult, error) {
	var intent intentResponse
	raw, err := p.gateway.Call(ctx, http.MethodGet, "/v1/intents/"+url.PathEscape(transactionID), nil, &intent)
	if err != nil {
		return nil, mapError(err, transactionID)
	}
	return &processor.StatusResult{
		TransactionID: intent.IntentID,
		Status:        intentStatus(intent.State),
		Raw:           raw,
	}, nil
}

// ValidateWebhookSignature checks the hex HMAC of the body.
func (p *Processor) ValidateWebhookSignature(signature string, rawBody []byte) bool {
	return processor.VerifySignature(p.webhookSecret, signature, rawBody)
}

type webhookPayload struct {
	EventID           string `json:"event_id"`
	EventType         string `json:"event_type"`
	IntentID          string `json:"intent_id"`
	MerchantReference string `json:"merchant_reference"`
	State             string `json:"state"`
	RefundID          string `json:"refund_id"`
	AmountMinor       int64  `json:"amount_minor"`
}

// ParseWebhookEvent decodes intent.* and refund.* events.
func (p *Processor) ParseWebhookEvent(rawBody []byte) (*processor.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, apperrors.InvalidInput("malformed wallet webhook: " + err.Error())
	}
	if payload.EventID == "" || payload.IntentID == "" {
		return nil, apperrors.InvalidInput("wallet webhook requires event_id and intent_id")
	}

	evt := &processor.WebhookEvent{
		EventID:       payload.EventID,
		TransactionID: payload.IntentID,
		Reference:     payload.MerchantReference,
		Payload:       rawBody,
	}
	switch {
	case strings.HasPrefix(payload.EventType, "refund."):
		if payload.RefundID == "" {
			return nil, apperrors.InvalidInput("wallet refund webhook requires refund_id")
		}
		evt.EventType = processor.EventRefundUpdated
		evt.RefundID = payload.RefundID
		evt.Amount = payload.AmountMinor
		evt.Status = refundStatus(payload.State)
	case strings.HasPrefix(payload.EventType, "intent."):
		evt.EventType = processor.EventPaymentUpdated
		evt.Status = intentStatus(payload.State)
	default:
		return nil, apperrors.InvalidInput("unknown wallet event type " + payload.EventType)
	}
	return evt, nil
}

func mapError(err error, id string) error {
	var statusErr *processor.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusNotFound:
			return apperrors.NotFound("wallet intent", id)
		case http.StatusPaymentRequired, http.StatusUnprocessableEntity:
			return apperrors.GatewayDeclined(Name, strings.TrimSpace(string(statusErr.Body)))
		}
		return apperrors.InvalidInput(statusErr.Error())
	}
	return err
}

func intentStatus(s string) string {
	switch s {
	case stateAwaitingRedirect:
		return domain.PaymentStatusAuthorized
	case stateCompleted:
		return domain.PaymentStatusSucceeded
	case stateFailed, stateCancelled:
		return domain.PaymentStatusFailed
	case statePending:
		return domain.PaymentStatusPending
	default:
		return domain.PaymentStatusPending
	}
}

func refundStatus(s string) string {
	switch s {
	case stateCompleted, "succeeded":
		return domain.RefundStatusSucceeded
	case stateFailed, stateCancelled:
		return domain.RefundStatusFailed
	default:
		return domain.RefundStatusPending
	}
}
