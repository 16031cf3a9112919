package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// StockLevel Tests
// ============================================================================

func TestAvailable_Normal(t *testing.T) {
	s := &StockLevel{QuantityOnHand: 100, QuantityReserved: 30}
	assert.Equal(t, 70, s.Available())
}

func TestAvailable_AllReserved(t *testing.T) {
	s := &StockLevel{QuantityOnHand: 50, QuantityReserved: 50}
	assert.Equal(t, 0, s.Available())
}

func TestNewStockLevel_ZeroBaseline(t *testing.T) {
	now := time.Now().UTC()
	key := StockKey{ProductID: "p1", VariantID: "v1", LocationID: "l1"}

	s := NewStockLevel("id-1", key, now)

	assert.Equal(t, key, s.Key())
	assert.Zero(t, s.QuantityOnHand)
	assert.Zero(t, s.QuantityReserved)
	assert.Equal(t, DefaultLowStockThreshold, s.LowStockThreshold)
	assert.NoError(t, s.Validate())
}

func TestValidate_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		level   StockLevel
		wantErr bool
	}{
		{"consistent", StockLevel{QuantityOnHand: 10, QuantityReserved: 4, QuantityAvailable: 6}, false},
		{"negative on hand", StockLevel{QuantityOnHand: -1, QuantityAvailable: -1}, true},
		{"negative reserved", StockLevel{QuantityOnHand: 1, QuantityReserved: -1, QuantityAvailable: 2}, true},
		{"reserved exceeds on hand", StockLevel{QuantityOnHand: 1, QuantityReserved: 2, QuantityAvailable: -1}, true},
		{"stale available", StockLevel{QuantityOnHand: 10, QuantityReserved: 4, QuantityAvailable: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.level.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLowStock(t *testing.T) {
	s := &StockLevel{QuantityOnHand: 12, QuantityReserved: 2, LowStockThreshold: 10}
	assert.True(t, s.IsLowStock())

	s.QuantityOnHand = 13
	assert.False(t, s.IsLowStock())

	s.LowStockThreshold = 0
	s.QuantityOnHand = 0
	s.QuantityReserved = 0
	assert.False(t, s.IsLowStock(), "zero threshold disables alerts")
}

// ============================================================================
// Key ordering and line merging
// ============================================================================

func TestSortedUniqueKeys(t *testing.T) {
	keys := []StockKey{
		{ProductID: "b", LocationID: "l1"},
		{ProductID: "a", VariantID: "v2", LocationID: "l1"},
		{ProductID: "a", VariantID: "v1", LocationID: "l2"},
		{ProductID: "b", LocationID: "l1"},
		{ProductID: "a", VariantID: "v1", LocationID: "l1"},
	}

	got := SortedUniqueKeys(keys)

	require.Len(t, got, 4)
	assert.Equal(t, StockKey{ProductID: "a", VariantID: "v1", LocationID: "l1"}, got[0])
	assert.Equal(t, StockKey{ProductID: "a", VariantID: "v1", LocationID: "l2"}, got[1])
	assert.Equal(t, StockKey{ProductID: "a", VariantID: "v2", LocationID: "l1"}, got[2])
	assert.Equal(t, StockKey{ProductID: "b", LocationID: "l1"}, got[3])
}

func TestMergeLines_SumsDuplicateKeys(t *testing.T) {
	lines := []StockLine{
		{ProductID: "p2", LocationID: "l1", Quantity: 1},
		{ProductID: "p1", LocationID: "l1", Quantity: 2},
		{ProductID: "p2", LocationID: "l1", Quantity: 3},
	}

	got := MergeLines(lines)

	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ProductID)
	assert.Equal(t, 2, got[0].Quantity)
	assert.Equal(t, "p2", got[1].ProductID)
	assert.Equal(t, 4, got[1].Quantity)
}

func TestStockKey_String(t *testing.T) {
	assert.Equal(t, "p1@l1", StockKey{ProductID: "p1", LocationID: "l1"}.String())
	assert.Equal(t, "p1/v1@l1", StockKey{ProductID: "p1", VariantID: "v1", LocationID: "l1"}.String())
}
