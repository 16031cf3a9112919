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

// TransferService drives transfers between locations through their lifecycle.
type TransferService struct {
	uow       repository.UnitOfWork
	reader    repository.Reader
	publisher EventPublisher
	logger    *slog.Logger
}

// NewTransferService creates a new transfer service.
func NewTransferService(uow repository.UnitOfWork, reader repository.Reader, publisher EventPublisher, logger *slog.Logger) *TransferService {
	return &TransferService{
		uow:       uow,
		reader:    reader,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateTransferInput describes a new draft transfer.
type CreateTransferInput struct {
	FromLocationID string
	ToLocationID   string
	Notes          string
	Actor          string
	Items          []TransferItemInput
}

// TransferItemInput is one requested product line.
type TransferItemInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Create stores a new draft transfer. No stock is touched until approval.
func (s *TransferService) Create(ctx context.Context, in CreateTransferInput) (*domain.Transfer, error) {
	now := time.Now().UTC()
	t := &domain.Transfer{
		ID:             uuid.New().String(),
		Status:         domain.TransferStatusDraft,
		FromLocationID: in.FromLocationID,
		ToLocationID:   in.ToLocationID,
		Notes:          in.Notes,
		CreatedBy:      in.Actor,
		Items:          make([]domain.TransferItem, 0, len(in.Items)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, item := range in.Items {
		t.Items = append(t.Items, domain.TransferItem{
			ID:                uuid.New().String(),
			ProductID:         item.ProductID,
			VariantID:         item.VariantID,
			QuantityRequested: item.Quantity,
		})
	}
	if err := t.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertTransfer(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	s.logger.InfoContext(ctx, "transfer created",
		slog.String("transfer_id", t.ID),
		slog.String("from_location_id", t.FromLocationID),
		slog.String("to_location_id", t.ToLocationID),
		slog.Int("item_count", len(t.Items)),
		slog.String("actor", in.Actor),
	)
	s.publishStatus(ctx, t, "", in.Actor)

	return t, nil
}

// Get returns a transfer with its items.
func (s *TransferService) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	t, err := s.reader.GetTransfer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return t, nil
}

// Approve reserves the requested quantities at the source location.
func (s *TransferService) Approve(ctx context.Context, id, actor string) (*domain.Transfer, error) {
	return s.transition(ctx, id, actor, domain.TransferStatusApproved,
		func(ctx context.Context, tx repository.Tx, t *domain.Transfer, now time.Time) ([]movementRecord, error) {
			_, _, err := reserveLines(ctx, tx, domain.ReferenceTransfer, t.ID, domain.MergeLines(t.SourceLines()), nil, now)
			return nil, err
		})
}

// Start marks the goods as shipped. Stock stays reserved at the source.
func (s *TransferService) Start(ctx context.Context, id, actor string) (*domain.Transfer, error) {
	return s.transition(ctx, id, actor, domain.TransferStatusInTransit, nil)
}

// Complete applies a transfer movement for each received quantity and
// releases whatever was reserved but not received. Items missing from
// received count as nothing received.
func (s *TransferService) Complete(ctx context.Context, id, actor string, received []domain.ReceivedItem) (*domain.Transfer, error) {
	return s.transition(ctx, id, actor, domain.TransferStatusCompleted,
		func(ctx context.Context, tx repository.Tx, t *domain.Transfer, now time.Time) ([]movementRecord, error) {
			return completeTransfer(ctx, tx, t, actor, received, now)
		})
}

// Cancel releases any reservation the transfer holds. No movement is applied.
func (s *TransferService) Cancel(ctx context.Context, id, actor string) (*domain.Transfer, error) {
	return s.transition(ctx, id, actor, domain.TransferStatusCancelled,
		func(ctx context.Context, tx repository.Tx, t *domain.Transfer, now time.Time) ([]movementRecord, error) {
			lines, err := tx.LockReservationLines(ctx, domain.ReferenceTransfer, t.ID)
			if err != nil {
				return nil, err
			}
			_, err = releaseLines(ctx, tx, lines, domain.ReservationStatusReleased, now, func(*domain.ReservationLine) bool { return true })
			return nil, err
		})
}

type movementRecord struct {
	movement *domain.Movement
	levels   []domain.StockLevel
}

type transitionWork func(ctx context.Context, tx repository.Tx, t *domain.Transfer, now time.Time) ([]movementRecord, error)

// transition locks the transfer, checks the move is legal before touching
// stock, runs work and saves the new status in one unit of work.
func (s *TransferService) transition(ctx context.Context, id, actor, to string, work transitionWork) (*domain.Transfer, error) {
	var (
		t       *domain.Transfer
		from    string
		records []movementRecord
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		t, err = tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		from = t.Status

		now := time.Now().UTC()
		if err := t.Transition(to, now); err != nil {
			return err
		}
		if work != nil {
			if records, err = work(ctx, tx, t, now); err != nil {
				return err
			}
		}
		return tx.SaveTransfer(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("move transfer %s to %s: %w", id, to, err)
	}
	transferTransitions.WithLabelValues(to).Inc()

	for _, r := range records {
		movementsApplied.WithLabelValues(string(r.movement.MovementType)).Inc()
		publishMovement(ctx, s.publisher, s.logger, r.movement, r.levels)
	}

	s.logger.InfoContext(ctx, "transfer status changed",
		slog.String("transfer_id", t.ID),
		slog.String("from_status", from),
		slog.String("to_status", t.Status),
		slog.Int("movement_count", len(records)),
		slog.String("actor", actor),
	)
	s.publishStatus(ctx, t, from, actor)

	return t, nil
}

func (s *TransferService) publishStatus(ctx context.Context, t *domain.Transfer, from, actor string) {
	if err := s.publisher.PublishTransferStatusChanged(ctx, t, from, actor); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish inventory.transfer_status_changed event",
			slog.String("transfer_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

func completeTransfer(ctx context.Context, tx repository.Tx, t *domain.Transfer, actor string, received []domain.ReceivedItem, now time.Time) ([]movementRecord, error) {
	quantities, err := receivedQuantities(t, received)
	if err != nil {
		return nil, err
	}

	lines, err := tx.LockReservationLines(ctx, domain.ReferenceTransfer, t.ID)
	if err != nil {
		return nil, err
	}
	held := make(map[domain.StockKey]*domain.ReservationLine, len(lines))
	for i := range lines {
		if lines[i].IsActive() {
			held[lines[i].Key()] = &lines[i]
		}
	}

	keys := make([]domain.StockKey, 0, len(t.Items)*2)
	for _, item := range t.Items {
		src := t.SourceKey(item)
		dst := src
		dst.LocationID = t.ToLocationID
		keys = append(keys, src, dst)
	}
	if _, err := tx.LockLevels(ctx, keys, true); err != nil {
		return nil, err
	}

	var records []movementRecord
	var residual []domain.ReservationLine
	for i := range t.Items {
		item := &t.Items[i]
		q := quantities[item.ID]
		item.QuantityReceived = &q

		src := t.SourceKey(*item)
		line := held[src]
		reserved := 0
		if line != nil {
			reserved = line.Quantity
		}

		if q > 0 {
			m := &domain.Movement{
				ID:             uuid.New().String(),
				MovementType:   domain.MovementTransfer,
				ProductID:      item.ProductID,
				VariantID:      item.VariantID,
				FromLocationID: t.FromLocationID,
				ToLocationID:   t.ToLocationID,
				Quantity:       q,
				Reason:         "transfer received",
				ReferenceType:  domain.ReferenceTransfer,
				ReferenceID:    t.ID,
				Actor:          actor,
				CreatedAt:      now,
			}
			touched, err := applyMovement(ctx, tx, m, map[domain.StockKey]int{src: min(q, reserved)})
			if err != nil {
				return nil, err
			}
			records = append(records, movementRecord{movement: m, levels: touched})
		}

		if line == nil {
			continue
		}
		if rest := reserved - q; rest > 0 {
			if err := releaseQuantity(ctx, tx, src, rest, now); err != nil {
				return nil, err
			}
			if q > 0 {
				released := *line
				released.ID = uuid.New().String()
				released.Quantity = rest
				released.Status = domain.ReservationStatusReleased
				released.CreatedAt = now
				released.UpdatedAt = now
				residual = append(residual, released)
			}
		}

		line.UpdatedAt = now
		if q > 0 {
			line.Status = domain.ReservationStatusCommitted
			line.Quantity = min(q, reserved)
		} else {
			line.Status = domain.ReservationStatusReleased
		}
		if err := tx.UpdateReservationLine(ctx, line); err != nil {
			return nil, err
		}
	}

	if len(residual) > 0 {
		if err := tx.InsertReservationLines(ctx, residual); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// receivedQuantities validates the receipt against the transfer items.
func receivedQuantities(t *domain.Transfer, received []domain.ReceivedItem) (map[string]int, error) {
	requested := make(map[string]int, len(t.Items))
	for _, item := range t.Items {
		requested[item.ID] = item.QuantityRequested
	}

	quantities := make(map[string]int, len(received))
	for _, r := range received {
		want, ok := requested[r.ItemID]
		switch {
		case !ok:
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %s is not part of transfer %s", r.ItemID, t.ID))
		case r.QuantityReceived < 0:
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %s: quantity_received must not be negative", r.ItemID))
		case r.QuantityReceived > want:
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %s: received %d exceeds requested %d", r.ItemID, r.QuantityReceived, want))
		}
		if _, dup := quantities[r.ItemID]; dup {
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %s is listed twice", r.ItemID))
		}
		quantities[r.ItemID] = r.QuantityReceived
	}
	return quantities, nil
}
