package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/commerce-core/pkg/database"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
)

// Pool is the subset of *pgxpool.Pool the store needs. pgxmock pools satisfy it.
type Pool interface {
	database.DBTX
	database.TxBeginner
}

// Store implements repository.Reader and repository.UnitOfWork on PostgreSQL.
type Store struct {
	pool              Pool
	lowStockThreshold int
}

// NewStore creates a new PostgreSQL-backed inventory store.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool, lowStockThreshold: domain.DefaultLowStockThreshold}
}

// WithLowStockThreshold sets the threshold given to rows created by movements.
func (s *Store) WithLowStockThreshold(n int) *Store {
	s.lowStockThreshold = n
	return s
}

var (
	_ repository.Reader     = (*Store)(nil)
	_ repository.UnitOfWork = (*Store)(nil)
	_ repository.Tx         = (*txStore)(nil)
)

// Do runs fn in a READ COMMITTED transaction. Row locks taken through the
// Tx are held until fn returns.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{q: tx, lowStockThreshold: s.lowStockThreshold})
	})
}

// txStore is the transactional view handed to a unit of work.
type txStore struct {
	q                 database.DBTX
	lowStockThreshold int
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
