package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

// fullRefundPrefix names the refund recorded when a processor reports a
// payment as refunded without saying which refund did it.
const fullRefundPrefix = "full:"

// Guard remembers which webhook events have been handled. It is a fast path
// only; folding is idempotent on its own.
type Guard interface {
	// CheckAndMark records key and reports whether it was new.
	CheckAndMark(ctx context.Context, key string) (bool, error)
	// Delete forgets key so a redelivery is processed again.
	Delete(ctx context.Context, key string) error
}

// Folder applies processor reports to stored payments.
type Folder interface {
	ApplyStatus(ctx context.Context, upd StatusUpdate) (*FoldResult, error)
	ApplyRefund(ctx context.Context, upd RefundUpdate) (*RefundFoldResult, error)
}

// WebhookService verifies, deduplicates and folds processor webhooks.
type WebhookService struct {
	processors *processor.Registry
	folder     Folder
	guard      Guard
	logger     *slog.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(processors *processor.Registry, folder Folder, guard Guard, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		processors: processors,
		folder:     folder,
		guard:      guard,
		logger:     logger,
	}
}

// WebhookResult reports what happened to a delivered webhook.
type WebhookResult struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// GuardKey is the dedupe key of one processor event.
func GuardKey(processorName, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", processorName, eventID)
}

// Receive handles one webhook delivery. The signature is checked against the
// raw body before anything is parsed. Errors other than NotFound,
// Unauthorized and InvalidInput are transient and should make the provider
// redeliver.
func (s *WebhookService) Receive(ctx context.Context, processorName, signature string, body []byte) (*WebhookResult, error) {
	proc, ok := s.processors.Get(processorName)
	if !ok {
		return nil, apperrors.NotFound("processor", processorName)
	}
	if !proc.ValidateWebhookSignature(signature, body) {
		webhookOutcomes.WithLabelValues(processorName, "invalid_signature").Inc()
		s.logger.WarnContext(ctx, "rejected webhook with invalid signature",
			slog.String("processor", processorName),
		)
		return nil, apperrors.Unauthorized("invalid webhook signature")
	}
	evt, err := proc.ParseWebhookEvent(body)
	if err != nil {
		webhookOutcomes.WithLabelValues(processorName, "malformed").Inc()
		return nil, err
	}

	key := GuardKey(processorName, evt.EventID)
	guarded := true
	first, err := s.guard.CheckAndMark(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "webhook guard unavailable, folding without it",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		first, guarded = true, false
	}
	if !first {
		webhookOutcomes.WithLabelValues(processorName, OutcomeDuplicate).Inc()
		s.logger.DebugContext(ctx, "skipping redelivered webhook",
			slog.String("processor", processorName),
			slog.String("event_id", evt.EventID),
		)
		return &WebhookResult{EventID: evt.EventID, Outcome: OutcomeDuplicate}, nil
	}

	outcome, err := s.HandleEvent(ctx, processorName, evt)
	if err != nil {
		webhookOutcomes.WithLabelValues(processorName, "error").Inc()
		if guarded {
			if derr := s.guard.Delete(context.WithoutCancel(ctx), key); derr != nil {
				s.logger.ErrorContext(ctx, "failed to clear webhook guard",
					slog.String("key", key),
					slog.String("error", derr.Error()),
				)
			}
		}
		return nil, err
	}

	webhookOutcomes.WithLabelValues(processorName, outcome).Inc()
	return &WebhookResult{EventID: evt.EventID, Outcome: outcome}, nil
}

// HandleEvent folds a verified event. Events about payments this service does
// not know are acknowledged.
func (s *WebhookService) HandleEvent(ctx context.Context, processorName string, evt *processor.WebhookEvent) (string, error) {
	logger := s.logger.With(
		slog.String("processor", processorName),
		slog.String("event_id", evt.EventID),
		slog.String("event_type", evt.EventType),
		slog.String("transaction_id", evt.TransactionID),
	)

	var (
		outcome string
		err     error
	)
	switch evt.EventType {
	case processor.EventPaymentUpdated:
		outcome, err = s.handlePayment(ctx, processorName, evt)
	case processor.EventRefundUpdated:
		var res *RefundFoldResult
		res, err = s.folder.ApplyRefund(ctx, RefundUpdate{
			Processor:     processorName,
			TransactionID: evt.TransactionID,
			RefundID:      evt.RefundID,
			Status:        evt.Status,
			Amount:        evt.Amount,
		})
		if err == nil {
			outcome = res.Outcome
		}
	default:
		logger.InfoContext(ctx, "ignoring unsupported webhook event")
		return OutcomeIgnored, nil
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		logger.InfoContext(ctx, "webhook for unknown payment")
		return OutcomeUnknown, nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to fold webhook", slog.String("error", err.Error()))
		return "", err
	}
	logger.InfoContext(ctx, "webhook folded", slog.String("outcome", outcome))
	return outcome, nil
}

func (s *WebhookService) handlePayment(ctx context.Context, processorName string, evt *processor.WebhookEvent) (string, error) {
	switch evt.Status {
	case domain.PaymentStatusRefunded:
		res, err := s.folder.ApplyRefund(ctx, RefundUpdate{
			Processor:     processorName,
			TransactionID: evt.TransactionID,
			RefundID:      fullRefundPrefix + evt.TransactionID,
			Status:        domain.RefundStatusSucceeded,
		})
		if err != nil {
			return "", err
		}
		return res.Outcome, nil
	case domain.PaymentStatusPartiallyRefunded:
		// Partial refunds are folded from refund events, which carry the
		// amount.
		return OutcomeIgnored, nil
	}

	res, err := s.folder.ApplyStatus(ctx, StatusUpdate{
		Processor:     processorName,
		TransactionID: evt.TransactionID,
		Reference:     evt.Reference,
		Status:        evt.Status,
		Raw:           evt.Payload,
	})
	if err != nil {
		return "", err
	}
	return res.Outcome, nil
}
