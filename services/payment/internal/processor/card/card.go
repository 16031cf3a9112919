// Package card integrates a card-network gateway that speaks JSON over HTTP
// with amounts in major units.
package card

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

// Name is the processor name of the card gateway.
const Name = "card"

// Charge statuses reported by the gateway.
const (
	chargeSucceeded      = "succeeded"
	chargeRequiresAction = "requires_action"
	chargeProcessing     = "processing"
	chargeDeclined       = "declined"
	chargeFailed         = "failed"
)

// Config holds the gateway endpoint and credentials.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// Processor executes card payments.
type Processor struct {
	gateway       *processor.GatewayClient
	webhookSecret string
}

var _ processor.Processor = (*Processor)(nil)

// New creates a card processor. doer should carry the circuit breaker.
func New(cfg Config, doer processor.HTTPDoer) *Processor {
	return &Processor{
		gateway:       processor.NewGatewayClient(Name, cfg.BaseURL, cfg.APIKey, doer),
		webhookSecret: cfg.WebhookSecret,
	}
}

// Name returns the processor name.
func (p *Processor) Name() string { return Name }

type chargeRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reference   string          `json:"reference"`
	Description string          `json:"description,omitempty"`
	ReturnURL   string          `json:"return_url,omitempty"`
}

type chargeResponse struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DeclineReason string          `json:"decline_reason,omitempty"`
	ActionURL     string          `json:"action_url,omitempty"`
}

type refundRequest struct {
	ChargeID string           `json:"charge_id"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

type refundResponse struct {
	ID       string          `json:"id"`
	ChargeID string          `json:"charge_id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// ProcessPayment creates a charge. A 402 answer is a decline.
func (p *Processor) ProcessPayment(ctx context.Context, req *processor.PaymentRequest) (*processor.PaymentResult, error) {
	currency := strings.ToUpper(req.Currency)
	var charge chargeResponse
	raw, err := p.gateway.Call(ctx, http.MethodPost, "/v1/charges", chargeRequest{
		Amount:      processor.ToMajor(req.Amount, currency),
		Currency:    currency,
		Reference:   req.Reference,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
	}, &charge)
	if err != nil {
		var statusErr *processor.StatusError
		if !errors.As(err, &statusErr) || statusErr.Status != http.StatusPaymentRequired {
			return nil, p.mapError(err, req.Reference)
		}
		if jsonErr := json.Unmarshal(raw, &charge); jsonErr != nil {
			return nil, apperrors.GatewayUnavailable(Name, fmt.Errorf("decode decline: %w", jsonErr))
		}
		if charge.Status == "" {
			charge.Status = chargeDeclined
		}
	}

	status := chargeStatus(charge.Status)
	result := &processor.PaymentResult{
		Success:       status == domain.PaymentStatusSucceeded,
		TransactionID: charge.ID,
		Status:        status,
		Raw:           raw,
	}
	switch status {
	case domain.PaymentStatusAuthorized:
		result.NextAction = &domain.NextAction{Type: domain.NextActionChallenge, URL: charge.ActionURL}
	case domain.PaymentStatusFailed:
		result.FailureReason = charge.DeclineReason
		if result.FailureReason == "" {
			result.FailureReason = "card declined"
		}
	}
	return result, nil
}

// RefundPayment refunds a charge.
func (p *Processor) RefundPayment(ctx context.Context, transactionID string, amount *int64) (*processor.RefundResult, error) {
	req := refundRequest{ChargeID: transactionID}
	if amount != nil {
		// Amounts are major units of the charge currency, which only the
		// gateway knows at this point.
		charge, err := p.fetchCharge(ctx, transactionID)
		if err != nil {
			return nil, err
		}
		major := processor.ToMajor(*amount, charge.Currency)
		req.Amount = &major
	}

	var refund refundResponse
	raw, err := p.gateway.Call(ctx, http.MethodPost, "/v1/refunds", req, &refund)
	if err != nil {
		return nil, p.mapError(err, transactionID)
	}

	minor, err := processor.ToMinor(refund.Amount, refund.Currency)
	if err != nil {
		return nil, apperrors.GatewayUnavailable(Name, err)
	}
	return &processor.RefundResult{
		RefundID: refund.ID,
		Status:   refundStatus(refund.Status),
		Amount:   minor,
		Raw:      raw,
	}, nil
}

// GetPaymentStatus reads a charge.
func (p *Processor) GetPaymentStatus(ctx context.Context, transactionID string) (*processor.StatusResult, error) {
	var charge chargeResponse
	raw, err := p.gateway.Call(ctx, http.MethodGet, "/v1/charges/"+url.PathEscape(transactionID), nil, &charge)
	if err != nil {
		return nil, p.mapError(err, transactionID)
	}
	return &processor.StatusResult{
		TransactionID: charge.ID,
		Status:        chargeStatus(charge.Status),
		Raw:           raw,
	}, nil
}

func (p *Processor) fetchCharge(ctx context.Context, transactionID string) (*chargeResponse, error) {
	var charge chargeResponse
	if _, err := p.gateway.Call(ctx, http.MethodGet, "/v1/charges/"+url.PathEscape(transactionID), nil, &charge); err != nil {
		return nil, p.mapError(err, transactionID)
	}
	return &charge, nil
}

// ValidateWebhookSignature checks the hex HMAC of the body.
func (p *Processor) ValidateWebhookSignature(signature string, rawBody []byte) bool {
	return processor.VerifySignature(p.webhookSecret, signature, rawBody)
}

type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ChargeID  string          `json:"charge_id"`
		Reference string          `json:"reference"`
		Status    string          `json:"status"`
		RefundID  string          `json:"refund_id"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
	} `json:"data"`
}

// ParseWebhookEvent decodes charge.* and refund.* events.
func (p *Processor) ParseWebhookEvent(rawBody []byte) (*processor.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, apperrors.InvalidInput("malformed card webhook: " + err.Error())
	}
	if payload.ID == "" || payload.Data.ChargeID == "" {
		return nil, apperrors.InvalidInput("card webhook requires id and data.charge_id")
	}

	evt := &processor.WebhookEvent{
		EventID:       payload.ID,
		TransactionID: payload.Data.ChargeID,
		Reference:     payload.Data.Reference,
		Payload:       rawBody,
	}
	if strings.HasPrefix(payload.Type, "refund.") {
		if payload.Data.RefundID == "" {
			return nil, apperrors.InvalidInput("card refund webhook requires data.refund_id")
		}
		amount, err := processor.ToMinor(payload.Data.Amount, payload.Data.Currency)
		if err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		evt.EventType = processor.EventRefundUpdated
		evt.RefundID = payload.Data.RefundID
		evt.Status = refundStatus(payload.Data.Status)
		evt.Amount = amount
		return evt, nil
	}

	evt.EventType = processor.EventPaymentUpdated
	evt.Status = chargeStatus(payload.Data.Status)
	return evt, nil
}

func (p *Processor) mapError(err error, id string) error {
	var statusErr *processor.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusNotFound:
			return apperrors.NotFound("card charge", id)
		case http.StatusPaymentRequired:
			return apperrors.GatewayDeclined(Name, strings.TrimSpace(string(statusErr.Body)))
		}
		return apperrors.InvalidInput(statusErr.Error())
	}
	return err
}

func chargeStatus(s string) string {
	switch s {
	case chargeSucceeded:
		return domain.PaymentStatusSucceeded
	case chargeRequiresAction:
		return domain.PaymentStatusAuthorized
	case chargeProcessing:
		return domain.PaymentStatusPending
	case chargeDeclined, chargeFailed:
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

func refundStatus(s string) string {
	switch s {
	case "succeeded":
		return domain.RefundStatusSucceeded
	case "failed", "canceled":
		return domain.RefundStatusFailed
	default:
		return domain.RefundStatusPending
	}
}
