package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

// EventPublisher emits inventory domain events. Events are published after
// the unit of work commits; a publish failure is logged, never returned.
type EventPublisher interface {
	PublishMovementApplied(ctx context.Context, m *domain.Movement, levels []domain.StockLevel) error
	PublishLowStock(ctx context.Context, level *domain.StockLevel) error
	PublishReservation(ctx context.Context, status string, r *domain.Reservation) error
	PublishTransferStatusChanged(ctx context.Context, t *domain.Transfer, from, actor string) error
	PublishStockCorrected(ctx context.Context, c *domain.Correction) error
}

var (
	movementsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_movements_applied_total",
			Help: "Total number of stock movements applied to the ledger",
		},
		[]string{"movement_type"},
	)

	reservationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_reservation_operations_total",
			Help: "Total number of reservation operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	transferTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_transfer_transitions_total",
			Help: "Total number of transfer state transitions by target status",
		},
		[]string{"status"},
	)

	reconcileCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_reconcile_corrections_total",
			Help: "Total number of stock levels corrected by reconciliation",
		},
	)
)

// outcome labels a reservation operation result for metrics.
func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
