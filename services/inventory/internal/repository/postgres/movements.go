package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/utafrali/commerce-core/pkg/database"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

// AppendMovement inserts an immutable movement record.
func (t *txStore) AppendMovement(ctx context.Context, m *domain.Movement) error {
	query := `
		INSERT INTO stock_movements (id, movement_type, product_id, variant_id, from_location_id, to_location_id,
			quantity, reason, reference_type, reference_id, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := t.q.Exec(ctx, query,
		m.ID,
		string(m.MovementType),
		m.ProductID,
		m.VariantID,
		nullIfEmpty(m.FromLocationID),
		nullIfEmpty(m.ToLocationID),
		m.Quantity,
		m.Reason,
		nullIfEmpty(m.ReferenceType),
		nullIfEmpty(m.ReferenceID),
		m.Actor,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}

	return nil
}

// SumMovementEffects replays the on-hand effect of every movement touching
// key. It mirrors domain.Movement.Effects.
func (t *txStore) SumMovementEffects(ctx context.Context, key domain.StockKey) (int, error) {
	query := `
		SELECT COALESCE(SUM(
			CASE WHEN to_location_id = $3 AND movement_type IN ('stock_in', 'return', 'transfer')
				THEN quantity ELSE 0 END
			+ CASE WHEN from_location_id = $3 AND movement_type IN ('stock_out', 'sale', 'damage', 'expiration', 'transfer')
				THEN -quantity ELSE 0 END
			+ CASE WHEN from_location_id = $3 AND movement_type = 'adjustment'
				THEN quantity ELSE 0 END
		), 0)
		FROM stock_movements
		WHERE product_id = $1 AND variant_id = $2
			AND (from_location_id = $3 OR to_location_id = $3)`

	ctx, end := database.TraceQuery(ctx, "SumMovementEffects", query)
	var total int
	err := t.q.QueryRow(ctx, query, key.ProductID, key.VariantID, key.LocationID).Scan(&total)
	end(err)
	if err != nil {
		return 0, fmt.Errorf("sum movement effects for %s: %w", key, err)
	}

	return total, nil
}

// ListMovements returns a page of movement history, newest first.
func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter, page, perPage int) ([]domain.Movement, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	var (
		conditions []string
		args       []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.ProductID != "" {
		add("product_id = ?", filter.ProductID)
	}
	if filter.VariantID != "" {
		add("variant_id = ?", filter.VariantID)
	}
	if filter.LocationID != "" {
		add("(from_location_id = ? OR to_location_id = ?)", filter.LocationID)
	}
	if filter.MovementType != "" {
		add("movement_type = ?", string(filter.MovementType))
	}
	if filter.ReferenceID != "" {
		add("reference_id = ?", filter.ReferenceID)
	}

	query := `
		SELECT id, movement_type, product_id, variant_id, from_location_id, to_location_id,
			   quantity, reason, reference_type, reference_id, actor, created_at,
			   count(*) OVER() AS total_count
		FROM stock_movements`
	if len(conditions) > 0 {
		query += `
		WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, perPage, offset)
	query += fmt.Sprintf(`
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	ctx, end := database.TraceQuery(ctx, "ListMovements", query)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		end(err)
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var (
		movements  = []domain.Movement{}
		totalCount int
	)
	for rows.Next() {
		var (
			m                    domain.Movement
			movementType         string
			from, to             *string
			refType, referenceID *string
		)
		if err := rows.Scan(
			&m.ID,
			&movementType,
			&m.ProductID,
			&m.VariantID,
			&from,
			&to,
			&m.Quantity,
			&m.Reason,
			&refType,
			&referenceID,
			&m.Actor,
			&m.CreatedAt,
			&totalCount,
		); err != nil {
			end(err)
			return nil, 0, fmt.Errorf("scan movement row: %w", err)
		}
		m.MovementType = domain.MovementType(movementType)
		m.FromLocationID = derefString(from)
		m.ToLocationID = derefString(to)
		m.ReferenceType = derefString(refType)
		m.ReferenceID = derefString(referenceID)
		movements = append(movements, m)
	}
	err = rows.Err()
	end(err)
	if err != nil {
		return nil, 0, fmt.Errorf("iterate movement rows: %w", err)
	}

	return movements, totalCount, nil
}
