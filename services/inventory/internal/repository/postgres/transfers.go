package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/commerce-core/pkg/database"
	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

const transferColumns = `id, status, from_location_id, to_location_id, notes, created_by,
		approved_at, shipped_at, completed_at, cancelled_at, created_at, updated_at`

func loadTransfer(ctx context.Context, q database.DBTX, id string, forUpdate bool) (*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM stock_transfers
		WHERE id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}

	var t domain.Transfer
	err := q.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Status,
		&t.FromLocationID,
		&t.ToLocationID,
		&t.Notes,
		&t.CreatedBy,
		&t.ApprovedAt,
		&t.ShippedAt,
		&t.CompletedAt,
		&t.CancelledAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("transfer", id)
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}

	itemsQuery := `
		SELECT id, product_id, variant_id, quantity_requested, quantity_received
		FROM stock_transfer_items
		WHERE transfer_id = $1
		ORDER BY product_id, variant_id`

	rows, err := q.Query(ctx, itemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get transfer items: %w", err)
	}
	defer rows.Close()

	t.Items = []domain.TransferItem{}
	for rows.Next() {
		var item domain.TransferItem
		if err := rows.Scan(
			&item.ID,
			&item.ProductID,
			&item.VariantID,
			&item.QuantityRequested,
			&item.QuantityReceived,
		); err != nil {
			return nil, fmt.Errorf("scan transfer item row: %w", err)
		}
		t.Items = append(t.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer item rows: %w", err)
	}

	return &t, nil
}

// InsertTransfer stores a new transfer and its items.
func (t *txStore) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	query := `
		INSERT INTO stock_transfers (id, status, from_location_id, to_location_id, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.q.Exec(ctx, query,
		tr.ID,
		tr.Status,
		tr.FromLocationID,
		tr.ToLocationID,
		tr.Notes,
		tr.CreatedBy,
		tr.CreatedAt,
		tr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}

	itemQuery := `
		INSERT INTO stock_transfer_items (id, transfer_id, product_id, variant_id, quantity_requested)
		VALUES ($1, $2, $3, $4, $5)`

	for _, item := range tr.Items {
		if _, err := t.q.Exec(ctx, itemQuery, item.ID, tr.ID, item.ProductID, item.VariantID, item.QuantityRequested); err != nil {
			return fmt.Errorf("create transfer item: %w", err)
		}
	}

	return nil
}

// LockTransfer locks a transfer row and loads its items.
func (t *txStore) LockTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return loadTransfer(ctx, t.q, id, true)
}

// SaveTransfer writes the status, timestamps and received quantities.
func (t *txStore) SaveTransfer(ctx context.Context, tr *domain.Transfer) error {
	query := `
		UPDATE stock_transfers
		SET status = $1, approved_at = $2, shipped_at = $3, completed_at = $4, cancelled_at = $5, updated_at = $6
		WHERE id = $7`

	ct, err := t.q.Exec(ctx, query,
		tr.Status,
		tr.ApprovedAt,
		tr.ShippedAt,
		tr.CompletedAt,
		tr.CancelledAt,
		tr.UpdatedAt,
		tr.ID,
	)
	if err != nil {
		return fmt.Errorf("save transfer: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("transfer", tr.ID)
	}

	itemQuery := `
		UPDATE stock_transfer_items
		SET quantity_received = $1
		WHERE id = $2`

	for _, item := range tr.Items {
		if item.QuantityReceived == nil {
			continue
		}
		if _, err := t.q.Exec(ctx, itemQuery, *item.QuantityReceived, item.ID); err != nil {
			return fmt.Errorf("save transfer item: %w", err)
		}
	}

	return nil
}

// GetTransfer returns a transfer with its items.
func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return loadTransfer(ctx, s.pool, id, false)
}
