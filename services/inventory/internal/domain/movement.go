package domain

import (
	"fmt"
	"time"
)

// MovementType is the kind of stock movement.
type MovementType string

// Movement types.
const (
	MovementStockIn    MovementType = "stock_in"
	MovementStockOut   MovementType = "stock_out"
	MovementTransfer   MovementType = "transfer"
	MovementSale       MovementType = "sale"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
	MovementExpiration MovementType = "expiration"
	MovementAdjustment MovementType = "adjustment"
)

// ValidMovementTypes returns every movement type.
func ValidMovementTypes() []MovementType {
	return []MovementType{
		MovementStockIn, MovementStockOut, MovementTransfer, MovementSale,
		MovementReturn, MovementDamage, MovementExpiration, MovementAdjustment,
	}
}

// IsValidMovementType checks whether t is a known movement type.
func IsValidMovementType(t MovementType) bool {
	for _, v := range ValidMovementTypes() {
		if v == t {
			return true
		}
	}
	return false
}

// IsInbound reports whether the type only adds stock at the destination.
func (t MovementType) IsInbound() bool {
	return t == MovementStockIn || t == MovementReturn
}

// IsOutbound reports whether the type only removes stock at the source.
func (t MovementType) IsOutbound() bool {
	switch t {
	case MovementStockOut, MovementSale, MovementDamage, MovementExpiration:
		return true
	}
	return false
}

// Movement is an immutable record of a quantity change applied to the ledger.
// Quantity is positive for every type except adjustment, where it holds the
// signed delta that was actually applied.
type Movement struct {
	ID             string       `json:"id"`
	MovementType   MovementType `json:"movement_type"`
	ProductID      string       `json:"product_id"`
	VariantID      string       `json:"variant_id,omitempty"`
	FromLocationID string       `json:"from_location_id,omitempty"`
	ToLocationID   string       `json:"to_location_id,omitempty"`
	Quantity       int          `json:"quantity"`
	Reason         string       `json:"reason,omitempty"`
	ReferenceType  string       `json:"reference_type,omitempty"`
	ReferenceID    string       `json:"reference_id,omitempty"`
	Actor          string       `json:"actor,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Delta is a signed on-hand change against one stock level.
type Delta struct {
	Key      StockKey
	Quantity int
}

// Validate checks the movement shape for its type.
func (m *Movement) Validate() error {
	if m.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if !IsValidMovementType(m.MovementType) {
		return fmt.Errorf("invalid movement type %q", m.MovementType)
	}

	switch {
	case m.MovementType == MovementAdjustment:
		if m.Quantity == 0 {
			return fmt.Errorf("adjustment quantity must be non-zero")
		}
		if m.FromLocationID == "" {
			return fmt.Errorf("from_location_id is required for adjustment")
		}
	case m.Quantity <= 0:
		return fmt.Errorf("quantity must be positive")
	case m.MovementType.IsInbound():
		if m.ToLocationID == "" {
			return fmt.Errorf("to_location_id is required for %s", m.MovementType)
		}
	case m.MovementType.IsOutbound():
		if m.FromLocationID == "" {
			return fmt.Errorf("from_location_id is required for %s", m.MovementType)
		}
	case m.MovementType == MovementTransfer:
		if m.FromLocationID == "" || m.ToLocationID == "" {
			return fmt.Errorf("from_location_id and to_location_id are required for transfer")
		}
		if m.FromLocationID == m.ToLocationID {
			return fmt.Errorf("transfer source and destination must differ")
		}
	}
	return nil
}

// Effects returns the on-hand deltas the movement applies. Replaying the
// effects of every movement for a key yields the on-hand it should hold.
func (m *Movement) Effects() []Delta {
	from := StockKey{ProductID: m.ProductID, VariantID: m.VariantID, LocationID: m.FromLocationID}
	to := StockKey{ProductID: m.ProductID, VariantID: m.VariantID, LocationID: m.ToLocationID}

	switch {
	case m.MovementType.IsInbound():
		return []Delta{{Key: to, Quantity: m.Quantity}}
	case m.MovementType.IsOutbound():
		return []Delta{{Key: from, Quantity: -m.Quantity}}
	case m.MovementType == MovementTransfer:
		return []Delta{{Key: from, Quantity: -m.Quantity}, {Key: to, Quantity: m.Quantity}}
	case m.MovementType == MovementAdjustment:
		return []Delta{{Key: from, Quantity: m.Quantity}}
	}
	return nil
}

// Keys returns the stock keys touched by the movement.
func (m *Movement) Keys() []StockKey {
	effects := m.Effects()
	keys := make([]StockKey, 0, len(effects))
	for _, e := range effects {
		keys = append(keys, e.Key)
	}
	return keys
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	ProductID    string
	VariantID    string
	LocationID   string
	MovementType MovementType
	ReferenceID  string
}
