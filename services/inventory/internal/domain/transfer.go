package domain

import (
	"fmt"
	"time"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
)

// Transfer status constants.
const (
	TransferStatusDraft     = "draft"
	TransferStatusApproved  = "approved"
	TransferStatusInTransit = "in_transit"
	TransferStatusCompleted = "completed"
	TransferStatusCancelled = "cancelled"
)

// transferTransitions lists the legal moves of the transfer state machine.
var transferTransitions = map[string][]string{
	TransferStatusDraft:     {TransferStatusApproved, TransferStatusCancelled},
	TransferStatusApproved:  {TransferStatusInTransit, TransferStatusCancelled},
	TransferStatusInTransit: {TransferStatusCompleted, TransferStatusCancelled},
}

// CanTransitionTransfer reports whether a transfer may move from one status to another.
func CanTransitionTransfer(from, to string) bool {
	for _, next := range transferTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransferItem is one product line of a transfer.
type TransferItem struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id"`
	VariantID         string `json:"variant_id,omitempty"`
	QuantityRequested int    `json:"quantity_requested"`
	QuantityReceived  *int   `json:"quantity_received,omitempty"`
}

// Transfer moves stock between two locations.
type Transfer struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	FromLocationID string         `json:"from_location_id"`
	ToLocationID   string         `json:"to_location_id"`
	Notes          string         `json:"notes,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	Items          []TransferItem `json:"items"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	ShippedAt      *time.Time     `json:"shipped_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsTerminal returns true once the transfer is completed or cancelled.
func (t *Transfer) IsTerminal() bool {
	return t.Status == TransferStatusCompleted || t.Status == TransferStatusCancelled
}

// Validate checks a new transfer.
func (t *Transfer) Validate() error {
	if t.FromLocationID == "" || t.ToLocationID == "" {
		return fmt.Errorf("from_location_id and to_location_id are required")
	}
	if t.FromLocationID == t.ToLocationID {
		return fmt.Errorf("transfer source and destination must differ")
	}
	if len(t.Items) == 0 {
		return fmt.Errorf("transfer must have at least one item")
	}
	seen := make(map[StockKey]bool, len(t.Items))
	for _, item := range t.Items {
		if item.ProductID == "" {
			return fmt.Errorf("item product_id is required")
		}
		if item.QuantityRequested <= 0 {
			return fmt.Errorf("item quantity_requested must be positive")
		}
		k := StockKey{ProductID: item.ProductID, VariantID: item.VariantID}
		if seen[k] {
			return fmt.Errorf("duplicate item for product %s", item.ProductID)
		}
		seen[k] = true
	}
	return nil
}

// Transition moves the transfer to status and stamps the matching timestamp.
// Illegal moves return InvalidStateTransition and leave t untouched.
func (t *Transfer) Transition(to string, now time.Time) error {
	if !CanTransitionTransfer(t.Status, to) {
		return apperrors.InvalidStateTransition("transfer", t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case TransferStatusApproved:
		t.ApprovedAt = &now
	case TransferStatusInTransit:
		t.ShippedAt = &now
	case TransferStatusCompleted:
		t.CompletedAt = &now
	case TransferStatusCancelled:
		t.CancelledAt = &now
	}
	return nil
}

// SourceKey returns the key of an item at the source location.
func (t *Transfer) SourceKey(item TransferItem) StockKey {
	return StockKey{ProductID: item.ProductID, VariantID: item.VariantID, LocationID: t.FromLocationID}
}

// SourceLines returns the requested quantities at the source location.
func (t *Transfer) SourceLines() []StockLine {
	lines := make([]StockLine, 0, len(t.Items))
	for _, item := range t.Items {
		lines = append(lines, StockLine{
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			LocationID: t.FromLocationID,
			Quantity:   item.QuantityRequested,
		})
	}
	return lines
}

// ReceivedItem reports the quantity received for an item on completion.
type ReceivedItem struct {
	ItemID           string `json:"item_id"`
	QuantityReceived int    `json:"quantity_received"`
}
