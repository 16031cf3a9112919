package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

// EventPublisher emits payment domain events. Events are published after
// the unit of work commits; a publish failure is logged, never returned.
type EventPublisher interface {
	PublishPaymentSucceeded(ctx context.Context, payment *domain.Payment) error
	PublishPaymentFailed(ctx context.Context, payment *domain.Payment) error
	PublishPaymentRefunded(ctx context.Context, payment *domain.Payment, refund *domain.Refund) error
	PublishOrderPaid(ctx context.Context, order *domain.Order, paid int64) error
}

// OrderClient reads and advances orders owned by the order service.
type OrderClient interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
}

var (
	paymentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Total number of payment attempts by processor and resulting status",
		},
		[]string{"processor", "status"},
	)

	refundOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Total number of refunds by processor and resulting status",
		},
		[]string{"processor", "status"},
	)

	webhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Total number of processor webhooks by processor and outcome",
		},
		[]string{"processor", "outcome"},
	)

	processorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_processor_request_duration_seconds",
			Help:    "Latency of calls to payment processors",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"processor", "operation"},
	)

	ordersPaid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_orders_paid_total",
			Help: "Total number of orders advanced after being paid in full",
		},
	)

	overcaptures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_order_overcaptures_total",
			Help: "Total number of late successes that captured beyond the order total, by refund result",
		},
		[]string{"result"},
	)
)
