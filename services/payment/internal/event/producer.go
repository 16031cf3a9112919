package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

// Kafka topic constants for payment domain events.
const (
	TopicPaymentSucceeded = "ecommerce.payment.succeeded"
	TopicPaymentFailed    = "ecommerce.payment.failed"
	TopicPaymentRefunded  = "ecommerce.payment.refunded"
	TopicOrderPaid        = "ecommerce.order.paid"
)

// Aggregate type constants.
const (
	AggregateTypePayment = "payment"
	AggregateTypeOrder   = "order"
)

// SourcePaymentService identifies events originating from the payment service.
const SourcePaymentService = "payment-service"

// PaymentData is the payload for payment.succeeded and payment.failed events.
type PaymentData struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	StoreID       string `json:"store_id"`
	ProcessorName string `json:"processor_name"`
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	Inconclusive  bool   `json:"inconclusive,omitempty"`
}

// PaymentRefundedData is the payload for a payment.refunded event.
type PaymentRefundedData struct {
	PaymentID        string `json:"payment_id"`
	OrderID          string `json:"order_id"`
	RefundID         string `json:"refund_id"`
	ExternalRefundID string `json:"external_refund_id,omitempty"`
	RefundAmount     int64  `json:"refund_amount"`
	RefundedTotal    int64  `json:"refunded_total"`
	Currency         string `json:"currency"`
	Reason           string `json:"reason,omitempty"`
	PaymentStatus    string `json:"payment_status"`
}

// OrderPaidData is the payload for an order.paid event. The inventory service
// commits the order's reservation when it sees one.
type OrderPaidData struct {
	OrderID     string `json:"order_id"`
	StoreID     string `json:"store_id"`
	TotalAmount int64  `json:"total_amount"`
	PaidAmount  int64  `json:"paid_amount"`
	Currency    string `json:"currency"`
}

// Publisher is the part of the Kafka producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes payment domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the payment service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourcePaymentService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published payment event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}

func paymentData(payment *domain.Payment) PaymentData {
	return PaymentData{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		StoreID:       payment.StoreID,
		ProcessorName: payment.ProcessorName,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        payment.Status,
		FailureReason: payment.FailureReason,
		Inconclusive:  payment.Inconclusive,
	}
}

// PublishPaymentSucceeded publishes a payment.succeeded event.
func (p *Producer) PublishPaymentSucceeded(ctx context.Context, payment *domain.Payment) error {
	return p.publish(ctx, TopicPaymentSucceeded, payment.ID, AggregateTypePayment, paymentData(payment))
}

// PublishPaymentFailed publishes a payment.failed event.
func (p *Producer) PublishPaymentFailed(ctx context.Context, payment *domain.Payment) error {
	return p.publish(ctx, TopicPaymentFailed, payment.ID, AggregateTypePayment, paymentData(payment))
}

// PublishPaymentRefunded publishes a payment.refunded event.
func (p *Producer) PublishPaymentRefunded(ctx context.Context, payment *domain.Payment, refund *domain.Refund) error {
	return p.publish(ctx, TopicPaymentRefunded, payment.ID, AggregateTypePayment, PaymentRefundedData{
		PaymentID:        payment.ID,
		OrderID:          payment.OrderID,
		RefundID:         refund.ID,
		ExternalRefundID: refund.ExternalRefundID,
		RefundAmount:     refund.Amount,
		RefundedTotal:    payment.RefundedAmount,
		Currency:         refund.Currency,
		Reason:           refund.Reason,
		PaymentStatus:    payment.Status,
	})
}

// PublishOrderPaid publishes an order.paid event.
func (p *Producer) PublishOrderPaid(ctx context.Context, order *domain.Order, paid int64) error {
	return p.publish(ctx, TopicOrderPaid, order.ID, AggregateTypeOrder, OrderPaidData{
		OrderID:     order.ID,
		StoreID:     order.StoreID,
		TotalAmount: order.TotalAmount,
		PaidAmount:  paid,
		Currency:    order.Currency,
	})
}
