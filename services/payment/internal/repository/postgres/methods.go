package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

const methodColumns = `id, store_id, type, processor_name, enabled, currencies, min_amount, max_amount, created_at, updated_at`

func scanMethod(row pgx.Row) (*domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	if err := row.Scan(
		&m.ID,
		&m.StoreID,
		&m.Type,
		&m.ProcessorName,
		&m.Enabled,
		&m.Currencies,
		&m.MinAmount,
		&m.MaxAmount,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMethod returns a payment method by id.
func (s *Store) GetMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	query := `SELECT ` + methodColumns + ` FROM payment_methods WHERE id = $1`

	m, err := scanMethod(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment method", id)
		}
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	return m, nil
}

// ListStoreMethods returns the methods of a store ordered by creation.
func (s *Store) ListStoreMethods(ctx context.Context, storeID string) ([]domain.PaymentMethod, error) {
	query := `
		SELECT ` + methodColumns + `
		FROM payment_methods
		WHERE store_id = $1
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods of store %s: %w", storeID, err)
	}
	defer rows.Close()

	methods := []domain.PaymentMethod{}
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment method row: %w", err)
		}
		methods = append(methods, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment method rows: %w", err)
	}
	return methods, nil
}

// CreateMethod inserts a payment method.
func (s *Store) CreateMethod(ctx context.Context, m *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (id, store_id, type, processor_name, enabled, currencies,
			min_amount, max_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		m.ID,
		m.StoreID,
		m.Type,
		m.ProcessorName,
		m.Enabled,
		m.Currencies,
		m.MinAmount,
		m.MaxAmount,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

// UpdateMethod writes the mutable fields of a payment method.
func (s *Store) UpdateMethod(ctx context.Context, m *domain.PaymentMethod) error {
	query := `
		UPDATE payment_methods
		SET processor_name = $1, enabled = $2, currencies = $3, min_amount = $4, max_amount = $5, updated_at = $6
		WHERE id = $7`

	ct, err := s.pool.Exec(ctx, query,
		m.ProcessorName,
		m.Enabled,
		m.Currencies,
		m.MinAmount,
		m.MaxAmount,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment method: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("payment method", m.ID)
	}
	return nil
}
