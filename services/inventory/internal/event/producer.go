package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

// Kafka topic constants for inventory domain events.
const (
	TopicMovementApplied       = "ecommerce.inventory.movement_applied"
	TopicLowStock              = "ecommerce.inventory.low_stock"
	TopicReserved              = "ecommerce.inventory.reserved"
	TopicReleased              = "ecommerce.inventory.released"
	TopicCommitted             = "ecommerce.inventory.committed"
	TopicExpired               = "ecommerce.inventory.expired"
	TopicTransferStatusChanged = "ecommerce.inventory.transfer_status_changed"
	TopicStockCorrected        = "ecommerce.inventory.stock_corrected"
)

// Aggregate type constants.
const (
	AggregateTypeStock       = "stock"
	AggregateTypeReservation = "reservation"
	AggregateTypeTransfer    = "transfer"
)

// SourceInventoryService identifies events originating from the inventory service.
const SourceInventoryService = "inventory-service"

// reservationTopics maps the status a reservation moved to onto its topic.
var reservationTopics = map[string]string{
	domain.ReservationStatusActive:    TopicReserved,
	domain.ReservationStatusReleased:  TopicReleased,
	domain.ReservationStatusCommitted: TopicCommitted,
	domain.ReservationStatusExpired:   TopicExpired,
}

// MovementAppliedData is the payload for an inventory.movement_applied event.
type MovementAppliedData struct {
	Movement domain.Movement     `json:"movement"`
	Levels   []domain.StockLevel `json:"levels"`
}

// LowStockData is the payload for an inventory.low_stock event.
type LowStockData struct {
	ProductID         string `json:"product_id"`
	VariantID         string `json:"variant_id,omitempty"`
	LocationID        string `json:"location_id"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

// ReservationData is the payload for the reservation lifecycle events.
type ReservationData struct {
	ReferenceType string                `json:"reference_type"`
	ReferenceID   string                `json:"reference_id"`
	Status        string                `json:"status"`
	Lines         []ReservationLineData `json:"lines"`
}

// ReservationLineData is one line of a reservation event.
type ReservationLineData struct {
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	LocationID string `json:"location_id"`
	Quantity   int    `json:"quantity"`
}

// TransferStatusChangedData is the payload for an inventory.transfer_status_changed event.
type TransferStatusChangedData struct {
	TransferID     string `json:"transfer_id"`
	FromStatus     string `json:"from_status,omitempty"`
	ToStatus       string `json:"to_status"`
	FromLocationID string `json:"from_location_id"`
	ToLocationID   string `json:"to_location_id"`
	Actor          string `json:"actor,omitempty"`
}

// Publisher is the part of the Kafka producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes inventory domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the inventory service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceInventoryService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published inventory event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}

// PublishMovementApplied publishes an inventory.movement_applied event.
func (p *Producer) PublishMovementApplied(ctx context.Context, m *domain.Movement, levels []domain.StockLevel) error {
	return p.publish(ctx, TopicMovementApplied, m.ProductID, AggregateTypeStock, MovementAppliedData{
		Movement: *m,
		Levels:   levels,
	})
}

// PublishLowStock publishes an inventory.low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, level *domain.StockLevel) error {
	return p.publish(ctx, TopicLowStock, level.ProductID, AggregateTypeStock, LowStockData{
		ProductID:         level.ProductID,
		VariantID:         level.VariantID,
		LocationID:        level.LocationID,
		Available:         level.Available(),
		LowStockThreshold: level.LowStockThreshold,
	})
}

// PublishReservation publishes the event for a reservation that moved to
// status: reserved, released, committed or expired.
func (p *Producer) PublishReservation(ctx context.Context, status string, r *domain.Reservation) error {
	topic, ok := reservationTopics[status]
	if !ok {
		return fmt.Errorf("no reservation topic for status %q", status)
	}

	data := ReservationData{
		ReferenceType: r.ReferenceType,
		ReferenceID:   r.ReferenceID,
		Status:        status,
		Lines:         make([]ReservationLineData, 0, len(r.Lines)),
	}
	for _, l := range r.Lines {
		if l.Status != status {
			continue
		}
		data.Lines = append(data.Lines, ReservationLineData{
			ProductID:  l.ProductID,
			VariantID:  l.VariantID,
			LocationID: l.LocationID,
			Quantity:   l.Quantity,
		})
	}

	return p.publish(ctx, topic, r.ReferenceID, AggregateTypeReservation, data)
}

// PublishTransferStatusChanged publishes an inventory.transfer_status_changed event.
func (p *Producer) PublishTransferStatusChanged(ctx context.Context, t *domain.Transfer, from, actor string) error {
	return p.publish(ctx, TopicTransferStatusChanged, t.ID, AggregateTypeTransfer, TransferStatusChangedData{
		TransferID:     t.ID,
		FromStatus:     from,
		ToStatus:       t.Status,
		FromLocationID: t.FromLocationID,
		ToLocationID:   t.ToLocationID,
		Actor:          actor,
	})
}

// PublishStockCorrected publishes an inventory.stock_corrected event.
func (p *Producer) PublishStockCorrected(ctx context.Context, c *domain.Correction) error {
	return p.publish(ctx, TopicStockCorrected, c.Key.ProductID, AggregateTypeStock, c)
}
