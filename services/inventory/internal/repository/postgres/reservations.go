package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/commerce-core/pkg/database"
	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

const reservationColumns = `id, reference_type, reference_id, product_id, variant_id, location_id,
		quantity, status, expires_at, created_at, updated_at`

func queryReservationLines(ctx context.Context, q database.DBTX, query string, args ...any) ([]domain.ReservationLine, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []domain.ReservationLine{}
	for rows.Next() {
		var l domain.ReservationLine
		if err := rows.Scan(
			&l.ID,
			&l.ReferenceType,
			&l.ReferenceID,
			&l.ProductID,
			&l.VariantID,
			&l.LocationID,
			&l.Quantity,
			&l.Status,
			&l.ExpiresAt,
			&l.CreatedAt,
			&l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}

	return lines, nil
}

// LockReservationLines locks every line of a reference.
func (t *txStore) LockReservationLines(ctx context.Context, refType, refID string) ([]domain.ReservationLine, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY product_id, variant_id, location_id, created_at
		FOR UPDATE`

	lines, err := queryReservationLines(ctx, t.q, query, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("lock reservation lines for %s %s: %w", refType, refID, err)
	}
	return lines, nil
}

// InsertReservationLines stores new lines.
func (t *txStore) InsertReservationLines(ctx context.Context, lines []domain.ReservationLine) error {
	query := `
		INSERT INTO stock_reservations (id, reference_type, reference_id, product_id, variant_id, location_id,
			quantity, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for i := range lines {
		l := &lines[i]
		_, err := t.q.Exec(ctx, query,
			l.ID,
			l.ReferenceType,
			l.ReferenceID,
			l.ProductID,
			l.VariantID,
			l.LocationID,
			l.Quantity,
			l.Status,
			l.ExpiresAt,
			l.CreatedAt,
			l.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create reservation line %s: %w", l.Key(), err)
		}
	}

	return nil
}

// UpdateReservationLine writes the status and quantity of a line.
func (t *txStore) UpdateReservationLine(ctx context.Context, line *domain.ReservationLine) error {
	query := `
		UPDATE stock_reservations
		SET status = $1, quantity = $2, updated_at = $3
		WHERE id = $4`

	ct, err := t.q.Exec(ctx, query, line.Status, line.Quantity, line.UpdatedAt, line.ID)
	if err != nil {
		return fmt.Errorf("update reservation line: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("reservation line", line.ID)
	}

	return nil
}

// SumActiveReserved returns the quantity held by active lines on key.
func (t *txStore) SumActiveReserved(ctx context.Context, key domain.StockKey) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_reservations
		WHERE product_id = $1 AND variant_id = $2 AND location_id = $3 AND status = 'active'`

	var total int
	if err := t.q.QueryRow(ctx, query, key.ProductID, key.VariantID, key.LocationID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum active reservations for %s: %w", key, err)
	}

	return total, nil
}

// GetReservationLines returns every line of a reference without locking.
func (s *Store) GetReservationLines(ctx context.Context, refType, refID string) ([]domain.ReservationLine, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY product_id, variant_id, location_id, created_at`

	lines, err := queryReservationLines(ctx, s.pool, query, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("get reservation lines for %s %s: %w", refType, refID, err)
	}
	return lines, nil
}

// ListExpiredReservations returns references with active lines past expiry.
func (s *Store) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.ReservationRef, error) {
	query := `
		SELECT DISTINCT reference_type, reference_id
		FROM stock_reservations
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	refs := []domain.ReservationRef{}
	for rows.Next() {
		var ref domain.ReservationRef
		if err := rows.Scan(&ref.ReferenceType, &ref.ReferenceID); err != nil {
			return nil, fmt.Errorf("scan expired reservation row: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservation rows: %w", err)
	}

	return refs, nil
}
