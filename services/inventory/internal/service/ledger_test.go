package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
)

func TestApplyMovement_StockInCreatesLevel(t *testing.T) {
	env := newTestEnv()
	require.False(t, env.hasLevel(t, keyL))

	res, err := env.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType: domain.MovementStockIn,
		ProductID:    "prod-1",
		ToLocationID: "loc-l",
		Quantity:     10,
		Reason:       "purchase receipt",
		Actor:        "staff-1",
	})
	require.NoError(t, err)
	require.Len(t, res.Levels, 1)
	assert.Equal(t, 10, res.Levels[0].QuantityOnHand)
	assert.Equal(t, 10, res.Levels[0].QuantityAvailable)
	assert.Equal(t, "staff-1", res.Movement.Actor)

	assert.Equal(t, 10, env.level(t, keyL).QuantityOnHand)
	assert.Len(t, env.store.Movements(), 1)
	assert.Equal(t, 1, env.publisher.count("movement_applied"))
}

func TestApplyMovement_OutboundCannotTakeReservedStock(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.stockIn(t, keyL, 10)
	_, err := env.reservations.Reserve(ctx, ReserveInput{ReferenceID: "ord-1", Lines: []domain.StockLine{line(keyL, 8)}})
	require.NoError(t, err)

	_, err = env.ledger.ApplyMovement(ctx, ApplyMovementInput{
		MovementType:   domain.MovementDamage,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		Quantity:       3,
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	level := env.level(t, keyL)
	assert.Equal(t, 10, level.QuantityOnHand)
	assert.Equal(t, 8, level.QuantityReserved)
	assert.Len(t, env.store.Movements(), 1)
}

func TestApplyMovement_OutboundOnMissingRowFails(t *testing.T) {
	env := newTestEnv()

	_, err := env.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType:   domain.MovementStockOut,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		Quantity:       1,
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	assert.False(t, env.hasLevel(t, keyL))
}

func TestApplyMovement_TransferIsAtomic(t *testing.T) {
	env := newTestEnv()
	env.stockIn(t, keyL, 2)

	_, err := env.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType:   domain.MovementTransfer,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		ToLocationID:   "loc-l2",
		Quantity:       5,
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	assert.Equal(t, 2, env.level(t, keyL).QuantityOnHand)
	assert.False(t, env.hasLevel(t, keyL2))

	res, err := env.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType:   domain.MovementTransfer,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		ToLocationID:   "loc-l2",
		Quantity:       2,
	})
	require.NoError(t, err)
	assert.Len(t, res.Levels, 2)
	assert.Equal(t, 0, env.level(t, keyL).QuantityOnHand)
	assert.Equal(t, 2, env.level(t, keyL2).QuantityOnHand)
	env.assertLedgerInvariants(t)
}

func TestApplyMovement_AdjustmentClampsAtReserved(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.stockIn(t, keyL, 10)
	_, err := env.reservations.Reserve(ctx, ReserveInput{ReferenceID: "ord-1", Lines: []domain.StockLine{line(keyL, 4)}})
	require.NoError(t, err)

	res, err := env.ledger.ApplyMovement(ctx, ApplyMovementInput{
		MovementType:   domain.MovementAdjustment,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		Quantity:       -9,
		Reason:         "cycle count",
	})
	require.NoError(t, err)
	assert.Equal(t, -6, res.Movement.Quantity)

	level := env.level(t, keyL)
	assert.Equal(t, 4, level.QuantityOnHand)
	assert.Equal(t, 4, level.QuantityReserved)
	assert.Equal(t, 0, level.QuantityAvailable)

	_, err = env.ledger.ApplyMovement(ctx, ApplyMovementInput{
		MovementType:   domain.MovementAdjustment,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		Quantity:       -1,
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
}

func TestApplyMovement_AdjustmentUpward(t *testing.T) {
	env := newTestEnv()

	res, err := env.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType:   domain.MovementAdjustment,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		Quantity:       7,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Movement.Quantity)
	assert.Equal(t, 7, env.level(t, keyL).QuantityOnHand)
}

func TestApplyMovement_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input ApplyMovementInput
	}{
		{"unknown type", ApplyMovementInput{MovementType: "gift", ProductID: "prod-1", ToLocationID: "loc-l", Quantity: 1}},
		{"zero quantity", ApplyMovementInput{MovementType: domain.MovementStockIn, ProductID: "prod-1", ToLocationID: "loc-l"}},
		{"missing destination", ApplyMovementInput{MovementType: domain.MovementReturn, ProductID: "prod-1", Quantity: 1}},
		{"missing source", ApplyMovementInput{MovementType: domain.MovementSale, ProductID: "prod-1", Quantity: 1}},
		{"same locations", ApplyMovementInput{MovementType: domain.MovementTransfer, ProductID: "prod-1", FromLocationID: "loc-l", ToLocationID: "loc-l", Quantity: 1}},
		{"zero adjustment", ApplyMovementInput{MovementType: domain.MovementAdjustment, ProductID: "prod-1", FromLocationID: "loc-l"}},
		{"missing product", ApplyMovementInput{MovementType: domain.MovementStockIn, ToLocationID: "loc-l", Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			_, err := env.ledger.ApplyMovement(context.Background(), tt.input)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Empty(t, env.store.Movements())
		})
	}
}

func TestApplyMovement_PublishesLowStock(t *testing.T) {
	env := newTestEnv()
	env.stockIn(t, keyL, 15)
	assert.Equal(t, 0, env.publisher.count("low_stock"))

	_, err := env.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType:   domain.MovementStockOut,
		ProductID:      "prod-1",
		FromLocationID: "loc-l",
		Quantity:       6,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.publisher.count("low_stock"))
}

func TestApplyMovement_StorageFailureRollsBack(t *testing.T) {
	env := newTestEnv()
	env.store.InjectFault("AppendMovement", assert.AnError)

	_, err := env.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType: domain.MovementStockIn,
		ProductID:    "prod-1",
		ToLocationID: "loc-l",
		Quantity:     3,
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, env.hasLevel(t, keyL))
	assert.Equal(t, 0, env.publisher.count("movement_applied"))
}

func TestCheckAvailability(t *testing.T) {
	env := newTestEnv()
	env.stockIn(t, keyL, 5)

	results, all, err := env.ledger.CheckAvailability(context.Background(), []domain.StockLine{
		line(keyL, 5),
		line(keyP2, 1),
	})
	require.NoError(t, err)
	assert.False(t, all)
	require.Len(t, results, 2)
	assert.True(t, results[0].InStock)
	assert.Equal(t, 5, results[0].Available)
	assert.False(t, results[1].InStock)
	assert.Equal(t, 0, results[1].Available)

	_, _, err = env.ledger.CheckAvailability(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGetLevels_RequiresProductOrLocation(t *testing.T) {
	env := newTestEnv()
	env.stockIn(t, keyL, 5)

	_, err := env.ledger.GetLevels(context.Background(), repository.LevelFilter{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	levels, err := env.ledger.GetLevels(context.Background(), repository.LevelFilter{LocationID: "loc-l"})
	require.NoError(t, err)
	assert.Len(t, levels, 1)
}

func TestListMovements(t *testing.T) {
	env := newTestEnv()
	env.stockIn(t, keyL, 5)
	env.stockIn(t, keyL, 2)

	movements, total, err := env.ledger.ListMovements(context.Background(), domain.MovementFilter{ProductID: "prod-1"}, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, movements[0].Quantity)

	_, _, err = env.ledger.ListMovements(context.Background(), domain.MovementFilter{MovementType: "gift"}, 1, 20)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
