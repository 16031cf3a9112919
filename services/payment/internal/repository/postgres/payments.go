package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/commerce-core/pkg/database"
	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

const paymentColumns = `id, order_id, store_id, payment_method_id, processor_name, transaction_id,
		amount, refunded_amount, currency, status, next_action, gateway_response,
		failure_reason, inconclusive, paid_at, created_at, updated_at`

const transactionIDConstraint = "payments_transaction_id_key"

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p             domain.Payment
		transactionID *string
		nextAction    []byte
		gatewayResp   []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.StoreID,
		&p.MethodID,
		&p.ProcessorName,
		&transactionID,
		&p.Amount,
		&p.RefundedAmount,
		&p.Currency,
		&p.Status,
		&nextAction,
		&gatewayResp,
		&p.FailureReason,
		&p.Inconclusive,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	action, err := decodeNextAction(nextAction)
	if err != nil {
		return nil, err
	}
	p.NextAction = action
	p.TransactionID = derefString(transactionID)
	if len(gatewayResp) > 0 {
		p.GatewayResponse = gatewayResp
	}
	return &p, nil
}

func getPayment(ctx context.Context, q database.DBTX, query, what, key string) (*domain.Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment", key)
		}
		return nil, fmt.Errorf("get payment by %s: %w", what, err)
	}
	return p, nil
}

func orderTotals(ctx context.Context, q database.DBTX, orderID string) (domain.OrderTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status IN ('succeeded', 'partially_refunded', 'refunded')), 0),
			COALESCE(SUM(amount) FILTER (WHERE status IN ('pending', 'authorized')
				OR (status = 'failed' AND inconclusive AND updated_at > NOW() - make_interval(secs => $2))), 0)
		FROM payments
		WHERE order_id = $1`

	ctx, end := database.TraceQuery(ctx, "OrderTotals", query)
	var totals domain.OrderTotals
	err := q.QueryRow(ctx, query, orderID, domain.InconclusiveHold.Seconds()).Scan(&totals.Captured, &totals.InFlight)
	end(err)
	if err != nil {
		return domain.OrderTotals{}, fmt.Errorf("sum payments of order %s: %w", orderID, err)
	}
	return totals, nil
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// GetPayment returns a payment by id.
func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return getPayment(ctx, s.pool, query, "id", id)
}

// GetPaymentByTransaction returns a payment by processor transaction id.
func (s *Store) GetPaymentByTransaction(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`
	return getPayment(ctx, s.pool, query, "transaction id", transactionID)
}

// ListOrderPayments returns the attempts of an order, oldest first.
func (s *Store) ListOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at, id`

	ctx, end := database.TraceQuery(ctx, "ListOrderPayments", query)
	rows, err := s.pool.Query(ctx, query, orderID)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("list payments of order %s: %w", orderID, err)
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

// OrderTotals sums captured and in-flight payments of an order.
func (s *Store) OrderTotals(ctx context.Context, orderID string) (domain.OrderTotals, error) {
	return orderTotals(ctx, s.pool, orderID)
}

// ---------------------------------------------------------------------------
// Tx
// ---------------------------------------------------------------------------

// OrderTotals sums payments of an order inside the unit of work.
func (t *txStore) OrderTotals(ctx context.Context, orderID string) (domain.OrderTotals, error) {
	return orderTotals(ctx, t.q, orderID)
}

// InsertPayment stores a new attempt.
func (t *txStore) InsertPayment(ctx context.Context, p *domain.Payment) error {
	nextAction, err := encodeNextAction(p.NextAction)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (id, order_id, store_id, payment_method_id, processor_name, transaction_id,
			amount, refunded_amount, currency, status, next_action, gateway_response,
			failure_reason, inconclusive, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = t.q.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.StoreID,
		p.MethodID,
		p.ProcessorName,
		nullIfEmpty(p.TransactionID),
		p.Amount,
		p.RefundedAmount,
		p.Currency,
		p.Status,
		nextAction,
		nullJSON(p.GatewayResponse),
		p.FailureReason,
		p.Inconclusive,
		p.PaidAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, transactionIDConstraint) {
			return repository.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// LockPayment locks a payment by id.
func (t *txStore) LockPayment(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return getPayment(ctx, t.q, query, "id", id)
}

// LockPaymentByTransaction locks a payment by transaction id.
func (t *txStore) LockPaymentByTransaction(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1 FOR UPDATE`
	return getPayment(ctx, t.q, query, "transaction id", transactionID)
}

// UpdatePayment writes the mutable fields of a locked payment.
func (t *txStore) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	nextAction, err := encodeNextAction(p.NextAction)
	if err != nil {
		return err
	}

	query := `
		UPDATE payments
		SET transaction_id = $1, refunded_amount = $2, status = $3, next_action = $4,
		    gateway_response = $5, failure_reason = $6, inconclusive = $7, paid_at = $8, updated_at = $9
		WHERE id = $10`

	ct, err := t.q.Exec(ctx, query,
		nullIfEmpty(p.TransactionID),
		p.RefundedAmount,
		p.Status,
		nextAction,
		nullJSON(p.GatewayResponse),
		p.FailureReason,
		p.Inconclusive,
		p.PaidAt,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err, transactionIDConstraint) {
			return repository.ErrDuplicateTransaction
		}
		return fmt.Errorf("update payment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("payment", p.ID)
	}
	return nil
}

// DeletePayment removes a duplicate attempt.
func (t *txStore) DeletePayment(ctx context.Context, id string) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete payment %s: %w", id, err)
	}
	return nil
}
