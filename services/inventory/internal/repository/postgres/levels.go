package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/utafrali/commerce-core/pkg/database"
	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
)

const levelColumns = `id, product_id, variant_id, location_id, quantity_on_hand, quantity_reserved,
		quantity_available, low_stock_threshold, created_at, updated_at`

func scanLevel(row pgx.Row) (*domain.StockLevel, error) {
	var l domain.StockLevel
	err := row.Scan(
		&l.ID,
		&l.ProductID,
		&l.VariantID,
		&l.LocationID,
		&l.QuantityOnHand,
		&l.QuantityReserved,
		&l.QuantityAvailable,
		&l.LowStockThreshold,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LockLevels locks the rows for keys one at a time in key order.
func (t *txStore) LockLevels(ctx context.Context, keys []domain.StockKey, createMissing bool) (map[domain.StockKey]*domain.StockLevel, error) {
	insertQuery := `
		INSERT INTO stock_levels (id, product_id, variant_id, location_id, low_stock_threshold)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, variant_id, location_id) DO NOTHING`

	lockQuery := `
		SELECT ` + levelColumns + `
		FROM stock_levels
		WHERE product_id = $1 AND variant_id = $2 AND location_id = $3
		FOR UPDATE`

	levels := make(map[domain.StockKey]*domain.StockLevel, len(keys))
	for _, key := range domain.SortedUniqueKeys(keys) {
		if createMissing {
			_, err := t.q.Exec(ctx, insertQuery,
				uuid.New().String(), key.ProductID, key.VariantID, key.LocationID, t.lowStockThreshold)
			if err != nil {
				return nil, fmt.Errorf("create stock level %s: %w", key, err)
			}
		}

		qctx, end := database.TraceQuery(ctx, "LockStockLevel", lockQuery)
		level, err := scanLevel(t.q.QueryRow(qctx, lockQuery, key.ProductID, key.VariantID, key.LocationID))
		end(err)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("lock stock level %s: %w", key, err)
		}
		levels[key] = level
	}

	return levels, nil
}

// SaveLevel writes the quantities of a locked level. The available column
// is generated by the database.
func (t *txStore) SaveLevel(ctx context.Context, level *domain.StockLevel) error {
	query := `
		UPDATE stock_levels
		SET quantity_on_hand = $1, quantity_reserved = $2, low_stock_threshold = $3, updated_at = $4
		WHERE id = $5`

	ct, err := t.q.Exec(ctx, query,
		level.QuantityOnHand,
		level.QuantityReserved,
		level.LowStockThreshold,
		level.UpdatedAt,
		level.ID,
	)
	if err != nil {
		return fmt.Errorf("save stock level %s: %w", level.Key(), err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("stock level", level.ID)
	}

	return nil
}

// GetLevels returns the levels matching filter.
func (s *Store) GetLevels(ctx context.Context, filter repository.LevelFilter) ([]domain.StockLevel, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.VariantID != "" {
		add("variant_id = $%d", filter.VariantID)
	}
	if filter.LocationID != "" {
		add("location_id = $%d", filter.LocationID)
	}
	if filter.LowStock {
		conditions = append(conditions, "low_stock_threshold > 0 AND quantity_available <= low_stock_threshold")
	}

	query := `
		SELECT ` + levelColumns + `
		FROM stock_levels`
	if len(conditions) > 0 {
		query += `
		WHERE ` + strings.Join(conditions, " AND ")
	}
	query += `
		ORDER BY product_id, variant_id, location_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get stock levels: %w", err)
	}
	defer rows.Close()

	levels := []domain.StockLevel{}
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock level row: %w", err)
		}
		levels = append(levels, *level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock level rows: %w", err)
	}

	return levels, nil
}

// GetLevelsByKeys fetches the levels for keys with a single VALUES join.
func (s *Store) GetLevelsByKeys(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.StockLevel, error) {
	levels := make(map[domain.StockKey]domain.StockLevel, len(keys))
	if len(keys) == 0 {
		return levels, nil
	}

	args := make([]any, 0, len(keys)*3)
	valueClauses := make([]string, 0, len(keys))
	for i, key := range keys {
		p := i * 3
		valueClauses = append(valueClauses,
			"($"+strconv.Itoa(p+1)+",$"+strconv.Itoa(p+2)+",$"+strconv.Itoa(p+3)+")")
		args = append(args, key.ProductID, key.VariantID, key.LocationID)
	}

	query := `
		SELECT ` + levelColumns + `
		FROM stock_levels
		WHERE (product_id, variant_id, location_id) IN (VALUES ` + strings.Join(valueClauses, ", ") + `)`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get stock levels by keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock level row: %w", err)
		}
		levels[level.Key()] = *level
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock level rows: %w", err)
	}

	return levels, nil
}

// ListLedgerKeys returns every key known to the ledger: existing rows plus
// every location a movement has touched.
func (s *Store) ListLedgerKeys(ctx context.Context, productID string) ([]domain.StockKey, error) {
	query := `
		SELECT product_id, variant_id, location_id FROM stock_levels
		WHERE ($1 = '' OR product_id = $1)
		UNION
		SELECT product_id, variant_id, from_location_id FROM stock_movements
		WHERE from_location_id IS NOT NULL AND ($1 = '' OR product_id = $1)
		UNION
		SELECT product_id, variant_id, to_location_id FROM stock_movements
		WHERE to_location_id IS NOT NULL AND ($1 = '' OR product_id = $1)
		ORDER BY 1, 2, 3`

	ctx, end := database.TraceQuery(ctx, "ListLedgerKeys", query)
	rows, err := s.pool.Query(ctx, query, productID)
	if err != nil {
		end(err)
		return nil, fmt.Errorf("list ledger keys: %w", err)
	}
	defer rows.Close()

	keys := []domain.StockKey{}
	for rows.Next() {
		var k domain.StockKey
		if err := rows.Scan(&k.ProductID, &k.VariantID, &k.LocationID); err != nil {
			end(err)
			return nil, fmt.Errorf("scan ledger key: %w", err)
		}
		keys = append(keys, k)
	}
	err = rows.Err()
	end(err)
	if err != nil {
		return nil, fmt.Errorf("iterate ledger keys: %w", err)
	}

	return keys, nil
}
