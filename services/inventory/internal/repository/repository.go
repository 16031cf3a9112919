package repository

import (
	"context"
	"time"

	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

// Tx is the view of the store available inside one unit of work. Every
// mutation of a stock level happens through a Tx after the level has been
// locked with LockLevels.
type Tx interface {
	// LockLevels locks the levels for keys in lock order and returns them by
	// key. With createMissing, absent rows are inserted at zero first;
	// otherwise they are simply absent from the result.
	LockLevels(ctx context.Context, keys []domain.StockKey, createMissing bool) (map[domain.StockKey]*domain.StockLevel, error)

	// SaveLevel writes the quantities of a locked level.
	SaveLevel(ctx context.Context, level *domain.StockLevel) error

	// AppendMovement records an immutable movement.
	AppendMovement(ctx context.Context, movement *domain.Movement) error

	// LockReservationLines locks and returns every line held by a reference.
	LockReservationLines(ctx context.Context, refType, refID string) ([]domain.ReservationLine, error)

	// InsertReservationLines stores new active lines.
	InsertReservationLines(ctx context.Context, lines []domain.ReservationLine) error

	// UpdateReservationLine writes the status and quantity of a line.
	UpdateReservationLine(ctx context.Context, line *domain.ReservationLine) error

	// InsertTransfer stores a new transfer with its items.
	InsertTransfer(ctx context.Context, transfer *domain.Transfer) error

	// LockTransfer locks and returns a transfer with its items.
	LockTransfer(ctx context.Context, id string) (*domain.Transfer, error)

	// SaveTransfer writes status, timestamps and received quantities.
	SaveTransfer(ctx context.Context, transfer *domain.Transfer) error

	// SumMovementEffects replays every movement touching key and returns the
	// on-hand quantity they imply.
	SumMovementEffects(ctx context.Context, key domain.StockKey) (int, error)

	// SumActiveReserved returns the quantity held by active lines on key.
	SumActiveReserved(ctx context.Context, key domain.StockKey) (int, error)
}

// UnitOfWork runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// LevelFilter narrows stock level queries. Empty fields match everything.
type LevelFilter struct {
	ProductID  string
	VariantID  string
	LocationID string
	LowStock   bool
}

// Reader serves queries that need no locks.
type Reader interface {
	// GetLevels returns the levels matching filter ordered by key.
	GetLevels(ctx context.Context, filter LevelFilter) ([]domain.StockLevel, error)

	// GetLevelsByKeys returns the levels that exist for keys.
	GetLevelsByKeys(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.StockLevel, error)

	// ListMovements returns a page of movements, newest first, and the total count.
	ListMovements(ctx context.Context, filter domain.MovementFilter, page, perPage int) ([]domain.Movement, int, error)

	// GetReservationLines returns every line held by a reference.
	GetReservationLines(ctx context.Context, refType, refID string) ([]domain.ReservationLine, error)

	// ListExpiredReservations returns references holding active lines that
	// expired before now.
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.ReservationRef, error)

	// GetTransfer returns a transfer with its items.
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)

	// ListLedgerKeys returns every key that has a level row or appears in a
	// movement, optionally limited to one product.
	ListLedgerKeys(ctx context.Context, productID string) ([]domain.StockKey, error)
}
