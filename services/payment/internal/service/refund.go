package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

// RefundInput is a refund request. A nil Amount refunds everything still
// refundable.
type RefundInput struct {
	TransactionID string
	Amount        *int64
	Reason        string
}

// RefundResult is the recorded refund and the payment it belongs to.
type RefundResult struct {
	Refund  *domain.Refund  `json:"refund"`
	Payment *domain.Payment `json:"payment"`
}

// RefundPayment reserves the refund amount against the payment, asks the
// processor to return it and records the outcome. The refundable balance
// counts pending refunds, so concurrent refunds cannot exceed the payment.
func (s *PaymentService) RefundPayment(ctx context.Context, in RefundInput) (*RefundResult, error) {
	if in.TransactionID == "" {
		return nil, apperrors.InvalidInput("transaction_id is required")
	}
	if in.Amount != nil && *in.Amount <= 0 {
		return nil, apperrors.InvalidInput("refund amount must be positive")
	}

	var (
		payment *domain.Payment
		refund  *domain.Refund
		proc    processor.Processor
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPaymentByTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if !p.CanRefund() {
			return apperrors.InvalidStateTransition("payment", p.Status, domain.PaymentStatusRefunded)
		}
		var ok bool
		if proc, ok = s.processors.Get(p.ProcessorName); !ok {
			return apperrors.ServiceUnavailable(fmt.Sprintf("processor %q is not available", p.ProcessorName))
		}

		reserved, err := tx.ReservedRefundTotal(ctx, p.ID)
		if err != nil {
			return err
		}
		refundable := p.Amount - reserved
		if refundable <= 0 {
			return apperrors.InvalidInput("payment has no refundable balance")
		}
		amount := refundable
		if in.Amount != nil {
			amount = *in.Amount
		}
		if amount > refundable {
			return apperrors.InvalidInput(fmt.Sprintf("refund amount %d exceeds refundable balance %d", amount, refundable))
		}

		now := time.Now().UTC()
		refund = &domain.Refund{
			ID:        uuid.New().String(),
			PaymentID: p.ID,
			Amount:    amount,
			Currency:  p.Currency,
			Status:    domain.RefundStatusPending,
			Reason:    in.Reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		payment = p
		return tx.InsertRefund(ctx, refund)
	})
	if err != nil {
		return nil, fmt.Errorf("reserve refund: %w", err)
	}

	amount := refund.Amount
	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	start := time.Now()
	res, callErr := proc.RefundPayment(callCtx, in.TransactionID, &amount)
	processorLatency.WithLabelValues(proc.Name(), "refund").Observe(time.Since(start).Seconds())
	cancel()

	persistCtx := context.WithoutCancel(ctx)

	if callErr != nil {
		refundOutcomes.WithLabelValues(proc.Name(), "error").Inc()
		if outcomeUnknown(callErr) {
			// The processor may still perform the refund; the pending row
			// keeps the balance reserved until a webhook settles it.
			s.logger.WarnContext(ctx, "refund outcome unknown",
				slog.String("refund_id", refund.ID),
				slog.String("transaction_id", in.TransactionID),
				slog.String("error", callErr.Error()),
			)
			return nil, callErr
		}
		if err := s.failRefund(persistCtx, refund.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to record failed refund",
				slog.String("refund_id", refund.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, callErr
	}

	var settled *RefundResult
	err = s.uow.Do(persistCtx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		r, err := tx.LockRefund(ctx, refund.ID)
		if err != nil {
			return err
		}
		settled = &RefundResult{Refund: r, Payment: p}
		if r.Status != domain.RefundStatusPending {
			// A refund webhook settled it first.
			return nil
		}

		now := time.Now().UTC()
		r.ExternalRefundID = res.RefundID
		r.UpdatedAt = now
		switch res.Status {
		case domain.RefundStatusSucceeded, domain.RefundStatusFailed:
			r.Status = res.Status
		}
		if r.Status == domain.RefundStatusSucceeded {
			p.ApplyRefund(r.Amount, now)
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
		}
		return tx.UpdateRefund(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("record refund result: %w", err)
	}

	r := settled.Refund
	refundOutcomes.WithLabelValues(proc.Name(), r.Status).Inc()
	s.logger.InfoContext(ctx, "refund processed",
		slog.String("refund_id", r.ID),
		slog.String("payment_id", settled.Payment.ID),
		slog.String("external_refund_id", r.ExternalRefundID),
		slog.String("status", r.Status),
		slog.Int64("amount", r.Amount),
	)

	switch r.Status {
	case domain.RefundStatusSucceeded:
		s.publishRefunded(persistCtx, settled.Payment, r)
	case domain.RefundStatusFailed:
		return settled, apperrors.GatewayDeclined(proc.Name(), "refund was declined")
	}
	return settled, nil
}

// failRefund releases the balance held by a pending refund the processor
// rejected. Refunds already settled are left untouched.
func (s *PaymentService) failRefund(ctx context.Context, refundID string) error {
	return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.LockRefund(ctx, refundID)
		if err != nil {
			return err
		}
		if !r.CanTransitionTo(domain.RefundStatusFailed) {
			return nil
		}
		r.Status = domain.RefundStatusFailed
		r.UpdatedAt = time.Now().UTC()
		return tx.UpdateRefund(ctx, r)
	})
}

func (s *PaymentService) publishRefunded(ctx context.Context, payment *domain.Payment, refund *domain.Refund) {
	if err := s.publisher.PublishPaymentRefunded(ctx, payment, refund); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment refunded event",
			slog.String("payment_id", payment.ID),
			slog.String("refund_id", refund.ID),
			slog.String("error", err.Error()),
		)
	}
}
