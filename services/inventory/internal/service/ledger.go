package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
)

// LedgerService applies movements to the stock ledger and answers ledger queries.
type LedgerService struct {
	uow       repository.UnitOfWork
	reader    repository.Reader
	publisher EventPublisher
	logger    *slog.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(uow repository.UnitOfWork, reader repository.Reader, publisher EventPublisher, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		uow:       uow,
		reader:    reader,
		publisher: publisher,
		logger:    logger,
	}
}

// ApplyMovementInput is a movement command. Quantity is positive for every
// type except adjustment, where it is a signed delta.
type ApplyMovementInput struct {
	MovementType   domain.MovementType
	ProductID      string
	VariantID      string
	FromLocationID string
	ToLocationID   string
	Quantity       int
	Reason         string
	ReferenceType  string
	ReferenceID    string
	Actor          string
}

// MovementResult is the recorded movement and the levels it left behind.
type MovementResult struct {
	Movement domain.Movement     `json:"movement"`
	Levels   []domain.StockLevel `json:"levels"`
}

// ApplyMovement validates and applies one movement atomically.
func (s *LedgerService) ApplyMovement(ctx context.Context, in ApplyMovementInput) (*MovementResult, error) {
	m := &domain.Movement{
		ID:             uuid.New().String(),
		MovementType:   in.MovementType,
		ProductID:      in.ProductID,
		VariantID:      in.VariantID,
		FromLocationID: in.FromLocationID,
		ToLocationID:   in.ToLocationID,
		Quantity:       in.Quantity,
		Reason:         in.Reason,
		ReferenceType:  in.ReferenceType,
		ReferenceID:    in.ReferenceID,
		Actor:          in.Actor,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	var levels []domain.StockLevel
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		levels, err = applyMovement(ctx, tx, m, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("apply %s movement: %w", m.MovementType, err)
	}
	movementsApplied.WithLabelValues(string(m.MovementType)).Inc()

	s.logger.InfoContext(ctx, "stock movement applied",
		slog.String("movement_id", m.ID),
		slog.String("movement_type", string(m.MovementType)),
		slog.String("product_id", m.ProductID),
		slog.String("variant_id", m.VariantID),
		slog.String("from_location_id", m.FromLocationID),
		slog.String("to_location_id", m.ToLocationID),
		slog.Int("quantity", m.Quantity),
		slog.String("actor", m.Actor),
	)

	publishMovement(ctx, s.publisher, s.logger, m, levels)

	return &MovementResult{Movement: *m, Levels: levels}, nil
}

// GetLevels returns the stock levels matching filter. A product or a
// location must be named.
func (s *LedgerService) GetLevels(ctx context.Context, filter repository.LevelFilter) ([]domain.StockLevel, error) {
	if filter.ProductID == "" && filter.LocationID == "" {
		return nil, apperrors.InvalidInput("product_id or location_id is required")
	}

	levels, err := s.reader.GetLevels(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("get stock levels: %w", err)
	}
	return levels, nil
}

// CheckAvailability reports, per line, whether the requested quantity is
// available. A key with no level row has nothing available.
func (s *LedgerService) CheckAvailability(ctx context.Context, lines []domain.StockLine) ([]domain.AvailabilityResult, bool, error) {
	if len(lines) == 0 {
		return nil, false, apperrors.InvalidInput("items list cannot be empty")
	}
	if err := validateLines(lines); err != nil {
		return nil, false, err
	}

	keys := make([]domain.StockKey, 0, len(lines))
	for _, l := range lines {
		keys = append(keys, l.Key())
	}
	levels, err := s.reader.GetLevelsByKeys(ctx, keys)
	if err != nil {
		return nil, false, fmt.Errorf("check availability: %w", err)
	}

	allAvailable := true
	results := make([]domain.AvailabilityResult, 0, len(lines))
	for _, l := range lines {
		available := 0
		if level, ok := levels[l.Key()]; ok {
			available = level.Available()
		}
		inStock := available >= l.Quantity
		if !inStock {
			allAvailable = false
		}
		results = append(results, domain.AvailabilityResult{StockLine: l, Available: available, InStock: inStock})
	}

	return results, allAvailable, nil
}

// ListMovements returns a page of movement history, newest first.
func (s *LedgerService) ListMovements(ctx context.Context, filter domain.MovementFilter, page, perPage int) ([]domain.Movement, int, error) {
	if filter.MovementType != "" && !domain.IsValidMovementType(filter.MovementType) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid movement type %q", filter.MovementType))
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	movements, total, err := s.reader.ListMovements(ctx, filter, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	return movements, total, nil
}

func validateLines(lines []domain.StockLine) error {
	for i, l := range lines {
		switch {
		case l.ProductID == "":
			return apperrors.InvalidInput(fmt.Sprintf("items[%d]: product_id is required", i))
		case l.LocationID == "":
			return apperrors.InvalidInput(fmt.Sprintf("items[%d]: location_id is required", i))
		case l.Quantity <= 0:
			return apperrors.InvalidInput(fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
	}
	return nil
}

// applyMovement locks the levels m touches, applies its effects and records
// it, all inside tx. consume gives, per key, the reserved quantity the
// outflow draws from: this is how a reservation becomes a movement. Plain
// outflows may only take available stock.
//
// An adjustment never takes on-hand below the reserved quantity; m.Quantity
// is rewritten to the delta actually applied.
func applyMovement(ctx context.Context, tx repository.Tx, m *domain.Movement, consume map[domain.StockKey]int) ([]domain.StockLevel, error) {
	levels, err := tx.LockLevels(ctx, m.Keys(), true)
	if err != nil {
		return nil, err
	}

	if m.MovementType == domain.MovementAdjustment {
		key := m.Keys()[0]
		level, ok := levels[key]
		if !ok {
			return nil, fmt.Errorf("stock level %s was not locked", key)
		}
		target := max(level.QuantityOnHand+m.Quantity, level.QuantityReserved)
		effective := target - level.QuantityOnHand
		if effective == 0 {
			return nil, apperrors.InsufficientStock(key.String(), -m.Quantity, level.Available())
		}
		m.Quantity = effective
	}

	touched := make([]domain.StockLevel, 0, 2)
	for _, d := range m.Effects() {
		level, ok := levels[d.Key]
		if !ok {
			return nil, fmt.Errorf("stock level %s was not locked", d.Key)
		}

		if d.Quantity < 0 && m.MovementType != domain.MovementAdjustment {
			held := min(consume[d.Key], level.QuantityReserved)
			if -d.Quantity > level.Available()+held {
				return nil, apperrors.InsufficientStock(d.Key.String(), -d.Quantity, level.Available())
			}
			level.QuantityReserved -= held
		}
		level.QuantityOnHand += d.Quantity
		level.UpdatedAt = m.CreatedAt
		level.Recompute()
		if err := level.Validate(); err != nil {
			return nil, apperrors.Internal(err)
		}

		if err := tx.SaveLevel(ctx, level); err != nil {
			return nil, err
		}
		touched = append(touched, *level)
	}

	if err := tx.AppendMovement(ctx, m); err != nil {
		return nil, err
	}
	return touched, nil
}

// publishMovement emits movement_applied and, for levels the movement
// drained to or below their threshold, low_stock.
func publishMovement(ctx context.Context, publisher EventPublisher, logger *slog.Logger, m *domain.Movement, levels []domain.StockLevel) {
	if err := publisher.PublishMovementApplied(ctx, m, levels); err != nil {
		logger.ErrorContext(ctx, "failed to publish inventory.movement_applied event",
			slog.String("movement_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	drained := make(map[domain.StockKey]bool, 2)
	for _, d := range m.Effects() {
		if d.Quantity < 0 {
			drained[d.Key] = true
		}
	}
	for i := range levels {
		level := &levels[i]
		if !drained[level.Key()] || !level.IsLowStock() {
			continue
		}
		if err := publisher.PublishLowStock(ctx, level); err != nil {
			logger.ErrorContext(ctx, "failed to publish inventory.low_stock event",
				slog.String("product_id", level.ProductID),
				slog.String("location_id", level.LocationID),
				slog.String("error", err.Error()),
			)
		}
	}
}
