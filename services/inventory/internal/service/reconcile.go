package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
)

// ReconcileService rebuilds stock levels from the movement log and the
// active reservations, overwriting any drift it finds.
type ReconcileService struct {
	uow       repository.UnitOfWork
	reader    repository.Reader
	publisher EventPublisher
	logger    *slog.Logger
}

// NewReconcileService creates a new reconciliation service.
func NewReconcileService(uow repository.UnitOfWork, reader repository.Reader, publisher EventPublisher, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		uow:       uow,
		reader:    reader,
		publisher: publisher,
		logger:    logger,
	}
}

// Run checks every ledger key, or only those of productID when it is set.
// Each key is repaired in its own unit of work so one failure does not stop
// the run. Running it twice in a row reports no corrections the second time.
func (s *ReconcileService) Run(ctx context.Context, productID string) (*domain.ReconcileReport, error) {
	report := &domain.ReconcileReport{
		Corrections: []domain.Correction{},
		StartedAt:   time.Now().UTC(),
	}

	keys, err := s.reader.ListLedgerKeys(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list ledger keys: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reconcile interrupted: %w", err)
		}
		report.Checked++

		c, err := s.reconcileKey(ctx, key)
		if err != nil {
			report.Failed++
			s.logger.ErrorContext(ctx, "failed to reconcile stock level",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if c == nil {
			continue
		}

		report.Corrections = append(report.Corrections, *c)
		reconcileCorrections.Inc()
		s.logger.WarnContext(ctx, "stock level corrected",
			slog.String("product_id", key.ProductID),
			slog.String("variant_id", key.VariantID),
			slog.String("location_id", key.LocationID),
			slog.Int("old_on_hand", c.OldOnHand),
			slog.Int("new_on_hand", c.NewOnHand),
			slog.Int("old_reserved", c.OldReserved),
			slog.Int("new_reserved", c.NewReserved),
			slog.Bool("row_created", c.RowCreated),
			slog.Bool("reserved_capped", c.ReservedCapped),
		)
		if err := s.publisher.PublishStockCorrected(ctx, c); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish inventory.stock_corrected event",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	report.FinishedAt = time.Now().UTC()
	s.logger.InfoContext(ctx, "reconciliation finished",
		slog.String("product_id", productID),
		slog.Int("checked", report.Checked),
		slog.Int("corrected", len(report.Corrections)),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, nil
}

// reconcileKey locks one level, recomputes what it should hold and writes
// it back when it differs. It returns nil when nothing changed.
func (s *ReconcileService) reconcileKey(ctx context.Context, key domain.StockKey) (*domain.Correction, error) {
	var correction *domain.Correction
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		keys := []domain.StockKey{key}
		levels, err := tx.LockLevels(ctx, keys, false)
		if err != nil {
			return err
		}
		level, exists := levels[key]
		if !exists {
			if levels, err = tx.LockLevels(ctx, keys, true); err != nil {
				return err
			}
			if level = levels[key]; level == nil {
				return fmt.Errorf("stock level %s could not be created", key)
			}
		}

		onHand, err := tx.SumMovementEffects(ctx, key)
		if err != nil {
			return err
		}
		reserved, err := tx.SumActiveReserved(ctx, key)
		if err != nil {
			return err
		}
		onHand = max(onHand, 0)
		capped := reserved > onHand
		if capped {
			reserved = onHand
		}

		if exists && level.QuantityOnHand == onHand && level.QuantityReserved == reserved {
			return nil
		}

		now := time.Now().UTC()
		correction = &domain.Correction{
			Key:            key,
			OldOnHand:      level.QuantityOnHand,
			NewOnHand:      onHand,
			OldReserved:    level.QuantityReserved,
			NewReserved:    reserved,
			RowCreated:     !exists,
			ReservedCapped: capped,
			CorrectedAt:    now,
		}

		level.QuantityOnHand = onHand
		level.QuantityReserved = reserved
		level.UpdatedAt = now
		level.Recompute()
		return tx.SaveLevel(ctx, level)
	})
	if err != nil {
		return nil, err
	}
	return correction, nil
}
