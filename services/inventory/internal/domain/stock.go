package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// DefaultLowStockThreshold is applied to stock levels created lazily by a movement.
const DefaultLowStockThreshold = 10

// StockKey identifies a stock level row: the SKU-location key. An empty
// VariantID means the product has no variants.
type StockKey struct {
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	LocationID string `json:"location_id"`
}

func (k StockKey) String() string {
	if k.VariantID == "" {
		return fmt.Sprintf("%s@%s", k.ProductID, k.LocationID)
	}
	return fmt.Sprintf("%s/%s@%s", k.ProductID, k.VariantID, k.LocationID)
}

// CompareKeys orders keys deterministically. Rows are always locked in this
// order so two transactions touching the same rows cannot deadlock.
func CompareKeys(a, b StockKey) int {
	if c := cmp.Compare(a.ProductID, b.ProductID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.VariantID, b.VariantID); c != 0 {
		return c
	}
	return cmp.Compare(a.LocationID, b.LocationID)
}

// SortedUniqueKeys returns the distinct keys in lock order.
func SortedUniqueKeys(keys []StockKey) []StockKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, CompareKeys)
	return slices.Compact(out)
}

// StockLevel is the per-location quantity record. QuantityAvailable is
// derived and always equals QuantityOnHand - QuantityReserved.
type StockLevel struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	VariantID         string    `json:"variant_id,omitempty"`
	LocationID        string    `json:"location_id"`
	QuantityOnHand    int       `json:"quantity_on_hand"`
	QuantityReserved  int       `json:"quantity_reserved"`
	QuantityAvailable int       `json:"quantity_available"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewStockLevel returns a zero-baseline level for key.
func NewStockLevel(id string, key StockKey, now time.Time) *StockLevel {
	return &StockLevel{
		ID:                id,
		ProductID:         key.ProductID,
		VariantID:         key.VariantID,
		LocationID:        key.LocationID,
		LowStockThreshold: DefaultLowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Key returns the SKU-location key of the level.
func (s *StockLevel) Key() StockKey {
	return StockKey{ProductID: s.ProductID, VariantID: s.VariantID, LocationID: s.LocationID}
}

// Available returns on-hand minus reserved.
func (s *StockLevel) Available() int {
	return s.QuantityOnHand - s.QuantityReserved
}

// Recompute refreshes the derived available quantity.
func (s *StockLevel) Recompute() {
	s.QuantityAvailable = s.Available()
}

// IsLowStock reports whether available stock is at or below the threshold.
func (s *StockLevel) IsLowStock() bool {
	return s.LowStockThreshold > 0 && s.Available() <= s.LowStockThreshold
}

// Validate checks the ledger invariants.
func (s *StockLevel) Validate() error {
	switch {
	case s.QuantityOnHand < 0:
		return fmt.Errorf("stock level %s: on hand %d is negative", s.Key(), s.QuantityOnHand)
	case s.QuantityReserved < 0:
		return fmt.Errorf("stock level %s: reserved %d is negative", s.Key(), s.QuantityReserved)
	case s.Available() < 0:
		return fmt.Errorf("stock level %s: reserved %d exceeds on hand %d", s.Key(), s.QuantityReserved, s.QuantityOnHand)
	case s.QuantityAvailable != s.Available():
		return fmt.Errorf("stock level %s: available %d out of sync", s.Key(), s.QuantityAvailable)
	}
	return nil
}

// StockLine is a requested quantity for a key, used by availability checks
// and reservations.
type StockLine struct {
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	LocationID string `json:"location_id"`
	Quantity   int    `json:"quantity"`
}

// Key returns the SKU-location key of the line.
func (l StockLine) Key() StockKey {
	return StockKey{ProductID: l.ProductID, VariantID: l.VariantID, LocationID: l.LocationID}
}

// MergeLines folds lines with the same key into one, summing quantities,
// and returns them in lock order.
func MergeLines(lines []StockLine) []StockLine {
	totals := make(map[StockKey]int, len(lines))
	keys := make([]StockKey, 0, len(lines))
	for _, l := range lines {
		k := l.Key()
		if _, ok := totals[k]; !ok {
			keys = append(keys, k)
		}
		totals[k] += l.Quantity
	}
	slices.SortFunc(keys, CompareKeys)

	merged := make([]StockLine, 0, len(keys))
	for _, k := range keys {
		merged = append(merged, StockLine{
			ProductID:  k.ProductID,
			VariantID:  k.VariantID,
			LocationID: k.LocationID,
			Quantity:   totals[k],
		})
	}
	return merged
}

// AvailabilityResult is the outcome of checking one line.
type AvailabilityResult struct {
	StockLine
	Available int  `json:"available"`
	InStock   bool `json:"in_stock"`
}
