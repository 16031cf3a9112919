package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

// DefaultProcessorTimeout bounds a single processor call when none is
// configured.
const DefaultProcessorTimeout = 15 * time.Second

// PaymentService orchestrates payments against processors and keeps the
// payment records and the order's paid state consistent.
type PaymentService struct {
	uow              repository.UnitOfWork
	reader           repository.Reader
	methods          repository.MethodRepository
	orders           OrderClient
	processors       *processor.Registry
	validator        *Validator
	publisher        EventPublisher
	logger           *slog.Logger
	processorTimeout time.Duration
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	uow repository.UnitOfWork,
	reader repository.Reader,
	methods repository.MethodRepository,
	orders OrderClient,
	processors *processor.Registry,
	publisher EventPublisher,
	logger *slog.Logger,
	processorTimeout time.Duration,
) *PaymentService {
	if processorTimeout <= 0 {
		processorTimeout = DefaultProcessorTimeout
	}
	return &PaymentService{
		uow:              uow,
		reader:           reader,
		methods:          methods,
		orders:           orders,
		processors:       processors,
		validator:        NewValidator(processors),
		publisher:        publisher,
		logger:           logger,
		processorTimeout: processorTimeout,
	}
}

// ProcessPaymentInput is a request to collect money for an order.
type ProcessPaymentInput struct {
	OrderID     string
	StoreID     string
	MethodID    string
	Amount      int64
	Currency    string
	ReturnURL   string
	Description string
}

// ProcessPaymentResult is the recorded payment. Duplicate is set when the
// processor answered with a transaction another payment already holds, in
// which case that payment is returned.
type ProcessPaymentResult struct {
	Payment   *domain.Payment
	Duplicate bool
	Warnings  []string
}

// ProcessPayment validates the request, records a pending attempt, calls the
// processor and records its answer. A declined payment is returned together
// with a GatewayDeclined error.
func (s *PaymentService) ProcessPayment(ctx context.Context, in ProcessPaymentInput) (*ProcessPaymentResult, error) {
	if in.OrderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	if in.MethodID == "" {
		return nil, apperrors.InvalidInput("payment_method_id is required")
	}

	order, err := s.orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	method, err := s.methods.GetMethod(ctx, in.MethodID)
	if err != nil {
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	totals, err := s.reader.OrderTotals(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("get order totals: %w", err)
	}

	checked, err := s.validator.Validate(ctx, ValidationRequest{
		Order:    order,
		Method:   method,
		StoreID:  in.StoreID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Totals:   totals,
	})
	if err != nil {
		paymentOutcomes.WithLabelValues(method.ProcessorName, "rejected").Inc()
		return nil, err
	}
	proc, _ := s.processors.Get(method.ProcessorName)

	now := time.Now().UTC()
	attempt := &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		MethodID:      method.ID,
		ProcessorName: proc.Name(),
		Amount:        in.Amount,
		Currency:      checked.Currency,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Concurrent attempts for the same order serialise on the order lock, so
	// the balance check and the insert see each other.
	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.LockOrder(ctx, order.ID); err != nil {
			return err
		}
		totals, err := tx.OrderTotals(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := s.validator.ValidatePaymentAmount(order, method, in.Amount, totals.Committed()); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, attempt)
	})
	if err != nil {
		return nil, fmt.Errorf("record payment attempt: %w", err)
	}

	res, callErr := s.callProcessPayment(ctx, proc, &processor.PaymentRequest{
		Reference:   attempt.ID,
		OrderID:     order.ID,
		Amount:      in.Amount,
		Currency:    checked.Currency,
		Description: in.Description,
		ReturnURL:   in.ReturnURL,
	})

	// The gateway may have moved money; what it said must be recorded even
	// if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	if callErr != nil {
		failed, err := s.failAttempt(persistCtx, attempt.ID, callErr)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record failed payment attempt",
				slog.String("payment_id", attempt.ID),
				slog.String("error", err.Error()),
			)
		} else if failed != nil {
			s.publishFailed(persistCtx, failed)
		}
		paymentOutcomes.WithLabelValues(proc.Name(), "error").Inc()
		return nil, callErr
	}

	payment, duplicate, err := s.recordResult(persistCtx, attempt.ID, res)
	if err != nil {
		return nil, fmt.Errorf("record payment result: %w", err)
	}

	result := &ProcessPaymentResult{Payment: payment, Duplicate: duplicate, Warnings: checked.Warnings}
	if duplicate {
		s.logger.WarnContext(ctx, "processor returned a transaction already recorded",
			slog.String("transaction_id", payment.TransactionID),
			slog.String("payment_id", payment.ID),
			slog.String("attempt_id", attempt.ID),
		)
		paymentOutcomes.WithLabelValues(proc.Name(), "duplicate").Inc()
		return result, nil
	}

	paymentOutcomes.WithLabelValues(proc.Name(), payment.Status).Inc()
	s.logger.InfoContext(ctx, "payment processed",
		slog.String("payment_id", payment.ID),
		slog.String("order_id", payment.OrderID),
		slog.String("processor", payment.ProcessorName),
		slog.String("transaction_id", payment.TransactionID),
		slog.String("status", payment.Status),
		slog.Int64("amount", payment.Amount),
	)

	switch payment.Status {
	case domain.PaymentStatusSucceeded:
		s.publishSucceeded(persistCtx, payment)
		if err := s.evaluateOrder(persistCtx, payment.OrderID); err != nil {
			s.logger.ErrorContext(ctx, "failed to evaluate order after payment",
				slog.String("order_id", payment.OrderID),
				slog.String("error", err.Error()),
			)
		}
	case domain.PaymentStatusFailed:
		s.publishFailed(persistCtx, payment)
		return result, apperrors.GatewayDeclined(proc.Name(), payment.FailureReason)
	}
	return result, nil
}

func (s *PaymentService) callProcessPayment(ctx context.Context, proc processor.Processor, req *processor.PaymentRequest) (*processor.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()

	start := time.Now()
	res, err := proc.ProcessPayment(ctx, req)
	processorLatency.WithLabelValues(proc.Name(), "payment").Observe(time.Since(start).Seconds())
	return res, err
}

// outcomeUnknown reports whether a processor error leaves open whether the
// processor acted on the request.
func outcomeUnknown(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, processor.ErrOutcomeUnknown)
}

// failAttempt marks a pending attempt failed after a processor error. A
// timeout, a 5xx answer or a connection lost after sending leaves the outcome
// unknown, so the attempt is flagged inconclusive and a later webhook can
// still settle it. It returns nil when the attempt was already settled by a
// webhook.
func (s *PaymentService) failAttempt(ctx context.Context, attemptID string, callErr error) (*domain.Payment, error) {
	inconclusive := outcomeUnknown(callErr)

	var failed *domain.Payment
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, attemptID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusPending {
			return nil
		}
		p.Fail(callErr.Error(), inconclusive, time.Now().UTC())
		failed = p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	if failed != nil {
		s.logger.WarnContext(ctx, "payment attempt failed",
			slog.String("payment_id", attemptID),
			slog.Bool("inconclusive", inconclusive),
			slog.String("error", callErr.Error()),
		)
	}
	return failed, nil
}

// recordResult stores the processor's answer on the attempt, or drops the
// attempt when another payment already holds the transaction id.
func (s *PaymentService) recordResult(ctx context.Context, attemptID string, res *processor.PaymentResult) (*domain.Payment, bool, error) {
	var (
		payment   *domain.Payment
		duplicate bool
	)
	record := func(ctx context.Context, tx repository.Tx) error {
		payment, duplicate = nil, false

		if res.TransactionID != "" {
			existing, err := tx.LockPaymentByTransaction(ctx, res.TransactionID)
			switch {
			case err == nil && existing.ID != attemptID:
				if err := tx.DeletePayment(ctx, attemptID); err != nil {
					return err
				}
				payment, duplicate = existing, true
				return nil
			case err != nil && !errors.Is(err, apperrors.ErrNotFound):
				return err
			}
		}

		p, err := tx.LockPayment(ctx, attemptID)
		if err != nil {
			return err
		}
		payment = p
		if p.Status != domain.PaymentStatusPending {
			// A webhook matched the attempt by reference first.
			return nil
		}

		now := time.Now().UTC()
		p.TransactionID = res.TransactionID
		if len(res.Raw) > 0 {
			p.GatewayResponse = res.Raw
		}
		switch res.Status {
		case domain.PaymentStatusFailed:
			reason := res.FailureReason
			if reason == "" {
				reason = "declined by processor"
			}
			p.Fail(reason, false, now)
		case domain.PaymentStatusAuthorized, domain.PaymentStatusSucceeded:
			p.ApplyStatus(res.Status, now)
			if res.Status == domain.PaymentStatusAuthorized {
				p.NextAction = res.NextAction
			}
		default:
			p.NextAction = res.NextAction
			p.UpdatedAt = now
		}
		return tx.UpdatePayment(ctx, p)
	}

	err := s.uow.Do(ctx, record)
	if errors.Is(err, repository.ErrDuplicateTransaction) {
		// Another attempt stored the same transaction id between our lookup
		// and our update; the second pass takes the duplicate branch.
		err = s.uow.Do(ctx, record)
	}
	if err != nil {
		return nil, false, err
	}
	return payment, duplicate, nil
}

// evaluateOrder advances the order once its captured payments cover the
// total. It is idempotent: an order that no longer awaits payment is left
// alone.
func (s *PaymentService) evaluateOrder(ctx context.Context, orderID string) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	totals, err := s.reader.OrderTotals(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order totals: %w", err)
	}

	if totals.Captured > order.TotalAmount {
		s.logger.WarnContext(ctx, "order captured more than its total",
			slog.String("order_id", orderID),
			slog.Int64("captured", totals.Captured),
			slog.Int64("total", order.TotalAmount),
		)
	}
	if order.IsCanceled() && totals.Captured > 0 {
		s.logger.WarnContext(ctx, "payment captured for a canceled order",
			slog.String("order_id", orderID),
			slog.Int64("captured", totals.Captured),
		)
	}
	if totals.Captured < order.TotalAmount || !order.AwaitsPayment() {
		return nil
	}

	if err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusProcessing); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	ordersPaid.Inc()
	s.logger.InfoContext(ctx, "order paid in full",
		slog.String("order_id", orderID),
		slog.Int64("captured", totals.Captured),
	)

	if err := s.publisher.PublishOrderPaid(ctx, order, totals.Captured); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order paid event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// GetPaymentStatus returns the stored payment. While the outcome is still
// open the processor is asked and its answer folded in; if the processor
// cannot be reached the stored state is returned.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, transactionID string) (*domain.Payment, error) {
	payment, err := s.reader.GetPaymentByTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	open := payment.IsInFlight() || (payment.Status == domain.PaymentStatusFailed && payment.Inconclusive)
	if !open {
		return payment, nil
	}
	proc, ok := s.processors.Get(payment.ProcessorName)
	if !ok {
		return payment, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	start := time.Now()
	status, err := proc.GetPaymentStatus(callCtx, transactionID)
	processorLatency.WithLabelValues(proc.Name(), "status").Observe(time.Since(start).Seconds())
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "processor status query failed",
			slog.String("transaction_id", transactionID),
			slog.String("processor", proc.Name()),
			slog.String("error", err.Error()),
		)
		return payment, nil
	}

	folded, err := s.ApplyStatus(ctx, StatusUpdate{
		Processor:     proc.Name(),
		TransactionID: transactionID,
		Status:        status.Status,
		Raw:           status.Raw,
	})
	if folded != nil && folded.Payment != nil {
		payment = folded.Payment
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to apply processor status",
			slog.String("transaction_id", transactionID),
			slog.String("error", err.Error()),
		)
	}
	return payment, nil
}

// OrderPayments is the payment history of one order.
type OrderPayments struct {
	Payments []domain.Payment           `json:"payments"`
	Refunds  map[string][]domain.Refund `json:"refunds"`
	Totals   domain.OrderTotals         `json:"totals"`
}

// ListOrderPayments returns every payment recorded for an order with its
// refunds.
func (s *PaymentService) ListOrderPayments(ctx context.Context, orderID string) (*OrderPayments, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	payments, err := s.reader.ListOrderPayments(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order payments: %w", err)
	}
	totals, err := s.reader.OrderTotals(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order totals: %w", err)
	}

	out := &OrderPayments{Payments: payments, Refunds: make(map[string][]domain.Refund), Totals: totals}
	for _, p := range payments {
		if !p.IsCaptured() {
			continue
		}
		refunds, err := s.reader.ListRefunds(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list refunds: %w", err)
		}
		if len(refunds) > 0 {
			out.Refunds[p.ID] = refunds
		}
	}
	return out, nil
}

func (s *PaymentService) publishSucceeded(ctx context.Context, payment *domain.Payment) {
	if err := s.publisher.PublishPaymentSucceeded(ctx, payment); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment succeeded event",
			slog.String("payment_id", payment.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PaymentService) publishFailed(ctx context.Context, payment *domain.Payment) {
	if err := s.publisher.PublishPaymentFailed(ctx, payment); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment failed event",
			slog.String("payment_id", payment.ID),
			slog.String("error", err.Error()),
		)
	}
}
