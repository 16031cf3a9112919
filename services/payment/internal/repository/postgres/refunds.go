package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

const refundColumns = `id, payment_id, amount, currency, status, reason, external_refund_id, created_at, updated_at`

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var (
		r          domain.Refund
		externalID *string
	)
	if err := row.Scan(
		&r.ID,
		&r.PaymentID,
		&r.Amount,
		&r.Currency,
		&r.Status,
		&r.Reason,
		&externalID,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.ExternalRefundID = derefString(externalID)
	return &r, nil
}

// findRefund returns nil when no row matches.
func (t *txStore) findRefund(ctx context.Context, query string, args ...any) (*domain.Refund, error) {
	r, err := scanRefund(t.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// ListRefunds returns the refunds of a payment, oldest first.
func (s *Store) ListRefunds(ctx context.Context, paymentID string) ([]domain.Refund, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds of payment %s: %w", paymentID, err)
	}
	defer rows.Close()

	refunds := []domain.Refund{}
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		refunds = append(refunds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}
	return refunds, nil
}

// InsertRefund stores a new refund.
func (t *txStore) InsertRefund(ctx context.Context, r *domain.Refund) error {
	query := `
		INSERT INTO refunds (id, payment_id, amount, currency, status, reason, external_refund_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.q.Exec(ctx, query,
		r.ID,
		r.PaymentID,
		r.Amount,
		r.Currency,
		r.Status,
		r.Reason,
		nullIfEmpty(r.ExternalRefundID),
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// LockRefund locks a refund by id.
func (t *txStore) LockRefund(ctx context.Context, id string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1 FOR UPDATE`

	r, err := t.findRefund(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("lock refund %s: %w", id, err)
	}
	if r == nil {
		return nil, apperrors.NotFound("refund", id)
	}
	return r, nil
}

// UpdateRefund writes status and external id of a locked refund.
func (t *txStore) UpdateRefund(ctx context.Context, r *domain.Refund) error {
	query := `
		UPDATE refunds
		SET status = $1, external_refund_id = $2, updated_at = $3
		WHERE id = $4`

	ct, err := t.q.Exec(ctx, query, r.Status, nullIfEmpty(r.ExternalRefundID), r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("refund", r.ID)
	}
	return nil
}

// FindRefundByExternalID locks the refund the processor knows as externalID.
func (t *txStore) FindRefundByExternalID(ctx context.Context, paymentID, externalID string) (*domain.Refund, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM refunds
		WHERE payment_id = $1 AND external_refund_id = $2
		FOR UPDATE`

	r, err := t.findRefund(ctx, query, paymentID, externalID)
	if err != nil {
		return nil, fmt.Errorf("find refund %s: %w", externalID, err)
	}
	return r, nil
}

// FindPendingRefund locks the oldest pending refund of amount with no
// external id.
func (t *txStore) FindPendingRefund(ctx context.Context, paymentID string, amount int64) (*domain.Refund, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM refunds
		WHERE payment_id = $1 AND amount = $2 AND status = 'pending' AND external_refund_id IS NULL
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE`

	r, err := t.findRefund(ctx, query, paymentID, amount)
	if err != nil {
		return nil, fmt.Errorf("find pending refund: %w", err)
	}
	return r, nil
}

// ReservedRefundTotal sums pending and succeeded refunds of a payment.
func (t *txStore) ReservedRefundTotal(ctx context.Context, paymentID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = $1 AND status IN ('pending', 'succeeded')`

	var total int64
	if err := t.q.QueryRow(ctx, query, paymentID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum refunds of payment %s: %w", paymentID, err)
	}
	return total, nil
}
