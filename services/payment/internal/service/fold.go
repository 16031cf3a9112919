package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

// Outcomes of folding a processor report into the stored state.
const (
	OutcomeApplied   = "applied"
	OutcomeUnchanged = "unchanged"
	OutcomeIgnored   = "ignored"
	OutcomeUnknown   = "unknown_payment"
	OutcomeDuplicate = "duplicate"
)

// StatusUpdate is a payment status reported by a processor. Reference is the
// attempt id the payment was requested with; it identifies attempts whose
// transaction id was never recorded.
type StatusUpdate struct {
	Processor     string
	TransactionID string
	Reference     string
	Status        string
	FailureReason string
	Raw           json.RawMessage
}

// FoldResult is the payment after a report was folded in.
type FoldResult struct {
	Payment *domain.Payment
	Outcome string
}

// ApplyStatus folds a processor-reported payment status into the stored
// payment. Repeated reports are no-ops and illegal transitions are ignored.
// A payment that ends up captured triggers an order re-evaluation, whose
// error is returned so the report can be retried.
func (s *PaymentService) ApplyStatus(ctx context.Context, upd StatusUpdate) (*FoldResult, error) {
	if !domain.IsValidPaymentStatus(upd.Status) {
		return nil, apperrors.InvalidInput("unknown payment status " + upd.Status)
	}

	var (
		result = &FoldResult{}
		from   string
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := lockReported(ctx, tx, upd)
		if err != nil {
			return err
		}
		result.Payment = p
		from = p.Status
		attach := p.TransactionID == "" && upd.TransactionID != ""
		if attach {
			p.TransactionID = upd.TransactionID
		}
		now := time.Now().UTC()

		switch {
		case p.Status == upd.Status:
			result.Outcome = OutcomeUnchanged
			if p.Inconclusive {
				// The processor confirmed the failure.
				p.Inconclusive = false
				p.UpdatedAt = now
				return tx.UpdatePayment(ctx, p)
			}
			if attach {
				return tx.UpdatePayment(ctx, p)
			}
			return nil
		case !p.CanTransitionTo(upd.Status):
			result.Outcome = OutcomeIgnored
			if attach {
				return tx.UpdatePayment(ctx, p)
			}
			return nil
		}

		if upd.Status == domain.PaymentStatusFailed {
			reason := upd.FailureReason
			if reason == "" {
				reason = "reported failed by processor"
			}
			p.Fail(reason, false, now)
		} else {
			p.ApplyStatus(upd.Status, now)
		}
		if len(upd.Raw) > 0 {
			p.GatewayResponse = upd.Raw
		}
		result.Outcome = OutcomeApplied
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	p := result.Payment
	switch result.Outcome {
	case OutcomeIgnored:
		s.logger.WarnContext(ctx, "ignored illegal payment status transition",
			slog.String("payment_id", p.ID),
			slog.String("transaction_id", p.TransactionID),
			slog.String("from", p.Status),
			slog.String("to", upd.Status),
		)
		return result, nil
	case OutcomeUnchanged:
		s.logger.DebugContext(ctx, "payment status unchanged",
			slog.String("payment_id", p.ID),
			slog.String("status", p.Status),
		)
	case OutcomeApplied:
		paymentOutcomes.WithLabelValues(p.ProcessorName, p.Status).Inc()
		s.logger.InfoContext(ctx, "payment status updated",
			slog.String("payment_id", p.ID),
			slog.String("transaction_id", p.TransactionID),
			slog.String("from", from),
			slog.String("to", p.Status),
		)
		late := from == domain.PaymentStatusFailed && p.Status == domain.PaymentStatusSucceeded
		if late {
			s.logger.WarnContext(ctx, "late success for a payment attempt with unknown outcome",
				slog.String("payment_id", p.ID),
				slog.String("order_id", p.OrderID),
			)
		}
		switch p.Status {
		case domain.PaymentStatusSucceeded:
			s.publishSucceeded(ctx, p)
		case domain.PaymentStatusFailed:
			s.publishFailed(ctx, p)
		}
		if late {
			s.refundOvercapture(ctx, p)
		}
	}

	if p.Status == domain.PaymentStatusSucceeded {
		if err := s.evaluateOrder(ctx, p.OrderID); err != nil {
			return result, err
		}
	}
	return result, nil
}

// refundOvercapture refunds what a late success captured beyond the order
// total, up to the payment's own amount. A refund that cannot be issued is
// logged at error level and counted for manual follow-up.
func (s *PaymentService) refundOvercapture(ctx context.Context, p *domain.Payment) {
	order, err := s.orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		s.logger.ErrorContext(ctx, "cannot check order for over-capture",
			slog.String("order_id", p.OrderID),
			slog.String("error", err.Error()),
		)
		return
	}
	payments, err := s.reader.ListOrderPayments(ctx, p.OrderID)
	if err != nil {
		s.logger.ErrorContext(ctx, "cannot check order for over-capture",
			slog.String("order_id", p.OrderID),
			slog.String("error", err.Error()),
		)
		return
	}
	excess := min(netCaptured(payments)-order.TotalAmount, p.Amount-p.RefundedAmount)
	if excess <= 0 {
		return
	}

	log := s.logger.With(
		slog.String("payment_id", p.ID),
		slog.String("order_id", p.OrderID),
		slog.Int64("excess", excess),
	)
	if p.TransactionID == "" {
		overcaptures.WithLabelValues("refund_failed").Inc()
		log.ErrorContext(ctx, "order over-captured, payment has no transaction id to refund")
		return
	}
	_, err = s.RefundPayment(ctx, RefundInput{
		TransactionID: p.TransactionID,
		Amount:        &excess,
		Reason:        "captured beyond order total",
	})
	if err != nil {
		overcaptures.WithLabelValues("refund_failed").Inc()
		log.ErrorContext(ctx, "order over-captured, refund of the excess failed", slog.String("error", err.Error()))
		return
	}
	overcaptures.WithLabelValues("refunded").Inc()
	log.WarnContext(ctx, "order over-captured, excess refunded")
}

// netCaptured is what the order's payments captured less what was refunded.
func netCaptured(payments []domain.Payment) int64 {
	var net int64
	for i := range payments {
		if payments[i].IsCaptured() {
			net += payments[i].Amount - payments[i].RefundedAmount
		}
	}
	return net
}

// lockReported finds the payment a report is about: by transaction id, or by
// attempt reference for attempts that never recorded one.
func lockReported(ctx context.Context, tx repository.Tx, upd StatusUpdate) (*domain.Payment, error) {
	var (
		p   *domain.Payment
		err error
	)
	if upd.TransactionID != "" {
		p, err = tx.LockPaymentByTransaction(ctx, upd.TransactionID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	if p == nil {
		if _, perr := uuid.Parse(upd.Reference); perr != nil {
			return nil, apperrors.NotFound("payment", upd.TransactionID)
		}
		p, err = tx.LockPayment(ctx, upd.Reference)
		if err != nil {
			return nil, err
		}
		if p.TransactionID != "" && p.TransactionID != upd.TransactionID {
			return nil, apperrors.NotFound("payment", upd.TransactionID)
		}
	}
	if upd.Processor != "" && p.ProcessorName != upd.Processor {
		return nil, apperrors.NotFound("payment", upd.TransactionID)
	}
	return p, nil
}

// RefundUpdate is a refund reported by a processor. Amount zero means the
// whole remaining balance.
type RefundUpdate struct {
	Processor     string
	TransactionID string
	RefundID      string
	Status        string
	Amount        int64
}

// RefundFoldResult is the refund and payment after a report was folded in.
type RefundFoldResult struct {
	Payment *domain.Payment
	Refund  *domain.Refund
	Outcome string
}

// ApplyRefund folds a processor-reported refund. Refund rows are matched by
// external refund id, then by a pending refund of the same amount that never
// heard back from the processor; otherwise the processor initiated the
// refund and a row is created for it.
func (s *PaymentService) ApplyRefund(ctx context.Context, upd RefundUpdate) (*RefundFoldResult, error) {
	if !domain.IsValidRefundStatus(upd.Status) {
		return nil, apperrors.InvalidInput("unknown refund status " + upd.Status)
	}
	if upd.RefundID == "" {
		return nil, apperrors.InvalidInput("refund id is required")
	}

	result := &RefundFoldResult{}
	var settled bool
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPaymentByTransaction(ctx, upd.TransactionID)
		if err != nil {
			return err
		}
		if upd.Processor != "" && p.ProcessorName != upd.Processor {
			return apperrors.NotFound("payment", upd.TransactionID)
		}
		result.Payment = p
		now := time.Now().UTC()

		r, err := tx.FindRefundByExternalID(ctx, p.ID, upd.RefundID)
		if err != nil {
			return err
		}
		changed := false
		if r == nil && upd.Amount > 0 {
			if r, err = tx.FindPendingRefund(ctx, p.ID, upd.Amount); err != nil {
				return err
			}
			if r != nil {
				r.ExternalRefundID = upd.RefundID
				changed = true
			}
		}
		if r == nil {
			if r, err = s.insertReportedRefund(ctx, tx, p, upd, now); err != nil || r == nil {
				result.Outcome = OutcomeIgnored
				return err
			}
			changed = true
		}
		result.Refund = r

		switch {
		case r.Status == upd.Status:
		case !r.CanTransitionTo(upd.Status):
			s.logger.WarnContext(ctx, "ignored illegal refund status transition",
				slog.String("refund_id", r.ID),
				slog.String("from", r.Status),
				slog.String("to", upd.Status),
			)
		default:
			r.Status = upd.Status
			changed = true
			if r.Status == domain.RefundStatusSucceeded {
				p.ApplyRefund(r.Amount, now)
				if err := tx.UpdatePayment(ctx, p); err != nil {
					return err
				}
				settled = true
			}
		}

		if !changed {
			result.Outcome = OutcomeUnchanged
			return nil
		}
		result.Outcome = OutcomeApplied
		r.UpdatedAt = now
		return tx.UpdateRefund(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	if result.Refund != nil && result.Outcome == OutcomeApplied {
		s.logger.InfoContext(ctx, "refund updated from processor",
			slog.String("refund_id", result.Refund.ID),
			slog.String("external_refund_id", result.Refund.ExternalRefundID),
			slog.String("status", result.Refund.Status),
			slog.Int64("amount", result.Refund.Amount),
		)
	}
	if settled {
		refundOutcomes.WithLabelValues(result.Payment.ProcessorName, domain.RefundStatusSucceeded).Inc()
		s.publishRefunded(ctx, result.Payment, result.Refund)
	}
	return result, nil
}

// insertReportedRefund records a refund the processor initiated. The amount
// is clamped to the balance not yet reserved by other refunds; nothing is
// recorded when no balance is left.
func (s *PaymentService) insertReportedRefund(ctx context.Context, tx repository.Tx, p *domain.Payment, upd RefundUpdate, now time.Time) (*domain.Refund, error) {
	if upd.Status == domain.RefundStatusFailed {
		return nil, nil
	}
	if !p.CanRefund() {
		s.logger.WarnContext(ctx, "refund reported for a payment that cannot be refunded",
			slog.String("payment_id", p.ID),
			slog.String("status", p.Status),
			slog.String("external_refund_id", upd.RefundID),
		)
		return nil, nil
	}
	reserved, err := tx.ReservedRefundTotal(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	available := p.Amount - reserved
	amount := upd.Amount
	if amount == 0 {
		amount = available
	}
	if amount > available {
		s.logger.WarnContext(ctx, "reported refund exceeds refundable balance",
			slog.String("payment_id", p.ID),
			slog.String("external_refund_id", upd.RefundID),
			slog.Int64("reported", amount),
			slog.Int64("available", available),
		)
		amount = available
	}
	if amount <= 0 {
		return nil, nil
	}

	r := &domain.Refund{
		ID:               uuid.New().String(),
		PaymentID:        p.ID,
		Amount:           amount,
		Currency:         p.Currency,
		Status:           domain.RefundStatusPending,
		Reason:           "initiated by processor",
		ExternalRefundID: upd.RefundID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.InsertRefund(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}
