package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

// Kafka topics consumed by the inventory service.
const (
	TopicOrderPaid     = "ecommerce.order.paid"
	TopicOrderCanceled = "ecommerce.order.canceled"
)

// ReservationService defines the interface required by the event consumer.
type ReservationService interface {
	Commit(ctx context.Context, refType, refID, actor string) (*domain.Reservation, error)
	Release(ctx context.Context, refType, refID, actor string) (*domain.Reservation, error)
}

// OrderPaidData is the expected payload of an order.paid event.
type OrderPaidData struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id,omitempty"`
}

// OrderCanceledData is the expected payload of an order.canceled event.
type OrderCanceledData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// Consumer processes incoming Kafka events for the inventory service.
type Consumer struct {
	logger  *slog.Logger
	service ReservationService
}

// NewConsumer creates a new event consumer for the inventory service.
func NewConsumer(service ReservationService, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// HandleOrderPaid commits the order's reservation, turning it into sale movements.
func (c *Consumer) HandleOrderPaid(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderPaidData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal order.paid data: %w", err)
	}
	if data.OrderID == "" {
		c.logger.WarnContext(ctx, "order.paid event without order_id", slog.String("event_id", event.EventID))
		return nil
	}

	c.logger.InfoContext(ctx, "processing order.paid event",
		slog.String("order_id", data.OrderID),
	)

	_, err := c.service.Commit(ctx, domain.ReferenceOrder, data.OrderID, event.Source)
	if done := c.settled(ctx, "commit", data.OrderID, err); done {
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit reservation for order %s: %w", data.OrderID, err)
	}

	c.logger.InfoContext(ctx, "stock committed for paid order",
		slog.String("order_id", data.OrderID),
	)

	return nil
}

// HandleOrderCanceled releases the order's reservation.
func (c *Consumer) HandleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCanceledData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal order.canceled data: %w", err)
	}
	if data.OrderID == "" {
		c.logger.WarnContext(ctx, "order.canceled event without order_id", slog.String("event_id", event.EventID))
		return nil
	}

	c.logger.InfoContext(ctx, "processing order.canceled event",
		slog.String("order_id", data.OrderID),
		slog.String("reason", data.Reason),
	)

	_, err := c.service.Release(ctx, domain.ReferenceOrder, data.OrderID, event.Source)
	if done := c.settled(ctx, "release", data.OrderID, err); done {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release reservation for order %s: %w", data.OrderID, err)
	}

	c.logger.InfoContext(ctx, "stock released for canceled order",
		slog.String("order_id", data.OrderID),
	)

	return nil
}

// settled reports whether err is final for this event: retrying a missing
// reservation or an illegal transition cannot succeed, so the event is acked.
func (c *Consumer) settled(ctx context.Context, op, orderID string, err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c.logger.DebugContext(ctx, "no reservation held for order",
			slog.String("operation", op),
			slog.String("order_id", orderID),
		)
		return true
	case errors.Is(err, apperrors.ErrInvalidTransition):
		c.logger.WarnContext(ctx, "reservation cannot change state, event ignored",
			slog.String("operation", op),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return true
	}
	return false
}
