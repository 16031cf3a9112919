package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/commerce-core/pkg/database"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

// Pool is the subset of *pgxpool.Pool the store needs. pgxmock pools satisfy it.
type Pool interface {
	database.DBTX
	database.TxBeginner
}

// Store implements the payment repositories on PostgreSQL.
type Store struct {
	pool Pool
}

// NewStore creates a new PostgreSQL-backed payment store.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ repository.Reader           = (*Store)(nil)
	_ repository.MethodRepository = (*Store)(nil)
	_ repository.UnitOfWork       = (*Store)(nil)
	_ repository.Tx               = (*txStore)(nil)
)

// Do runs fn in a READ COMMITTED transaction. Row and advisory locks taken
// through the Tx are held until fn returns.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{q: tx})
	})
}

// txStore is the transactional view handed to a unit of work.
type txStore struct {
	q database.DBTX
}

// LockOrder takes a transaction-scoped advisory lock keyed by the order id.
func (t *txStore) LockOrder(ctx context.Context, orderID string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	ctx, end := database.TraceQuery(ctx, "LockOrder", query)
	_, err := t.q.Exec(ctx, query, orderID)
	end(err)
	if err != nil {
		return fmt.Errorf("lock order %s: %w", orderID, err)
	}
	return nil
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

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func encodeNextAction(a *domain.NextAction) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal next action: %w", err)
	}
	return b, nil
}

func decodeNextAction(b []byte) (*domain.NextAction, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var a domain.NextAction
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("unmarshal next action: %w", err)
	}
	return &a, nil
}
