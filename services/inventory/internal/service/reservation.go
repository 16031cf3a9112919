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

// expireBatchSize bounds how many references one sweep releases.
const expireBatchSize = 100

// ReservationService holds, releases and commits stock on behalf of orders.
type ReservationService struct {
	uow       repository.UnitOfWork
	reader    repository.Reader
	publisher EventPublisher
	logger    *slog.Logger
	ttl       time.Duration
}

// NewReservationService creates a new reservation service. Order
// reservations expire after ttl; zero disables expiry.
func NewReservationService(uow repository.UnitOfWork, reader repository.Reader, publisher EventPublisher, logger *slog.Logger, ttl time.Duration) *ReservationService {
	return &ReservationService{
		uow:       uow,
		reader:    reader,
		publisher: publisher,
		logger:    logger,
		ttl:       ttl,
	}
}

// ReserveInput is a reservation request. TTL overrides the service default
// for order references when positive.
type ReserveInput struct {
	ReferenceType string
	ReferenceID   string
	Lines         []domain.StockLine
	TTL           time.Duration
}

// Reserve holds every line or none. Lines for the same key are merged.
// Reserving again for a reference that still holds stock returns the
// existing reservation unchanged.
func (s *ReservationService) Reserve(ctx context.Context, in ReserveInput) (*domain.Reservation, error) {
	if in.ReferenceType == "" {
		in.ReferenceType = domain.ReferenceOrder
	}
	if in.ReferenceType != domain.ReferenceOrder {
		return nil, apperrors.InvalidInput("only order reservations can be created directly")
	}
	if in.ReferenceID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	if len(in.Lines) == 0 {
		return nil, apperrors.InvalidInput("items list cannot be empty")
	}
	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	ttl := s.ttl
	if in.TTL > 0 {
		ttl = in.TTL
	}
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	var (
		res     *domain.Reservation
		created bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		res, created, err = reserveLines(ctx, tx, in.ReferenceType, in.ReferenceID, domain.MergeLines(in.Lines), expiresAt, now)
		return err
	})
	reservationOutcomes.WithLabelValues("reserve", outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("reserve stock for %s %s: %w", in.ReferenceType, in.ReferenceID, err)
	}

	if !created {
		s.logger.DebugContext(ctx, "reservation already held",
			slog.String("reference_type", in.ReferenceType),
			slog.String("reference_id", in.ReferenceID),
		)
		return res, nil
	}

	s.logger.InfoContext(ctx, "stock reserved",
		slog.String("reference_type", in.ReferenceType),
		slog.String("reference_id", in.ReferenceID),
		slog.Int("line_count", len(res.ActiveLines())),
	)
	s.publish(ctx, domain.ReservationStatusActive, res)

	return res, nil
}

// Release returns every active line of a reference to available stock.
// Releasing an already released reservation is a no-op.
func (s *ReservationService) Release(ctx context.Context, refType, refID, actor string) (*domain.Reservation, error) {
	var (
		res     *domain.Reservation
		changed bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		lines, err := tx.LockReservationLines(ctx, refType, refID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return apperrors.NotFound("reservation", refID)
		}

		changed, err = releaseLines(ctx, tx, lines, domain.ReservationStatusReleased, time.Now().UTC(), func(*domain.ReservationLine) bool { return true })
		if err != nil {
			return err
		}
		res = domain.NewReservation(refType, refID, lines)
		return nil
	})
	reservationOutcomes.WithLabelValues("release", outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("release reservation for %s %s: %w", refType, refID, err)
	}

	if changed {
		s.logger.InfoContext(ctx, "reservation released",
			slog.String("reference_type", refType),
			slog.String("reference_id", refID),
			slog.String("actor", actor),
		)
		s.publish(ctx, domain.ReservationStatusReleased, res)
	}

	return res, nil
}

// Commit turns every active line of an order reservation into a sale
// movement. Committing twice records nothing the second time.
func (s *ReservationService) Commit(ctx context.Context, refType, refID, actor string) (*domain.Reservation, error) {
	if refType != domain.ReferenceOrder {
		return nil, apperrors.InvalidInput("transfer reservations are committed by completing the transfer")
	}

	var (
		res       *domain.Reservation
		movements []*domain.Movement
		levels    [][]domain.StockLevel
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		lines, err := tx.LockReservationLines(ctx, refType, refID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return apperrors.NotFound("reservation", refID)
		}

		res = domain.NewReservation(refType, refID, lines)
		switch res.Status {
		case domain.ReservationStatusCommitted:
			return nil
		case domain.ReservationStatusActive:
		default:
			return apperrors.InvalidStateTransition("reservation", res.Status, domain.ReservationStatusCommitted)
		}

		keys := make([]domain.StockKey, 0, len(lines))
		for i := range lines {
			keys = append(keys, lines[i].Key())
		}
		if _, err := tx.LockLevels(ctx, keys, true); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range lines {
			line := &lines[i]
			if !line.IsActive() {
				continue
			}
			m := &domain.Movement{
				ID:             uuid.New().String(),
				MovementType:   domain.MovementSale,
				ProductID:      line.ProductID,
				VariantID:      line.VariantID,
				FromLocationID: line.LocationID,
				Quantity:       line.Quantity,
				Reason:         "order committed",
				ReferenceType:  refType,
				ReferenceID:    refID,
				Actor:          actor,
				CreatedAt:      now,
			}
			touched, err := applyMovement(ctx, tx, m, map[domain.StockKey]int{line.Key(): line.Quantity})
			if err != nil {
				return err
			}

			line.Status = domain.ReservationStatusCommitted
			line.UpdatedAt = now
			if err := tx.UpdateReservationLine(ctx, line); err != nil {
				return err
			}
			movements = append(movements, m)
			levels = append(levels, touched)
		}

		res = domain.NewReservation(refType, refID, lines)
		return nil
	})
	reservationOutcomes.WithLabelValues("commit", outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("commit reservation for %s %s: %w", refType, refID, err)
	}

	if len(movements) == 0 {
		s.logger.DebugContext(ctx, "reservation already committed",
			slog.String("reference_id", refID),
		)
		return res, nil
	}

	for i, m := range movements {
		movementsApplied.WithLabelValues(string(m.MovementType)).Inc()
		publishMovement(ctx, s.publisher, s.logger, m, levels[i])
	}
	s.logger.InfoContext(ctx, "reservation committed",
		slog.String("reference_type", refType),
		slog.String("reference_id", refID),
		slog.Int("movement_count", len(movements)),
		slog.String("actor", actor),
	)
	s.publish(ctx, domain.ReservationStatusCommitted, res)

	return res, nil
}

// GetReservation returns every line held for a reference.
func (s *ReservationService) GetReservation(ctx context.Context, refType, refID string) (*domain.Reservation, error) {
	lines, err := s.reader.GetReservationLines(ctx, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if len(lines) == 0 {
		return nil, apperrors.NotFound("reservation", refID)
	}
	return domain.NewReservation(refType, refID, lines), nil
}

// ExpireStale releases active lines whose expiry passed before now and
// marks them expired. It returns the number of references expired.
func (s *ReservationService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	refs, err := s.reader.ListExpiredReservations(ctx, now, expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	expired := 0
	for _, ref := range refs {
		var (
			res     *domain.Reservation
			changed bool
		)
		err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			lines, err := tx.LockReservationLines(ctx, ref.ReferenceType, ref.ReferenceID)
			if err != nil {
				return err
			}
			changed, err = releaseLines(ctx, tx, lines, domain.ReservationStatusExpired, now, func(l *domain.ReservationLine) bool {
				return l.IsExpired(now)
			})
			if err != nil {
				return err
			}
			res = domain.NewReservation(ref.ReferenceType, ref.ReferenceID, lines)
			return nil
		})
		reservationOutcomes.WithLabelValues("expire", outcome(err)).Inc()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to expire reservation",
				slog.String("reference_type", ref.ReferenceType),
				slog.String("reference_id", ref.ReferenceID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !changed {
			continue
		}
		expired++
		s.publish(ctx, domain.ReservationStatusExpired, res)
	}

	if expired > 0 {
		s.logger.InfoContext(ctx, "expired stale reservations",
			slog.Int("expired_count", expired),
			slog.Int("candidates", len(refs)),
		)
	}

	return expired, nil
}

func (s *ReservationService) publish(ctx context.Context, status string, res *domain.Reservation) {
	if err := s.publisher.PublishReservation(ctx, status, res); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish reservation event",
			slog.String("status", status),
			slog.String("reference_id", res.ReferenceID),
			slog.String("error", err.Error()),
		)
	}
}

// reserveLines holds lines for a reference inside tx. It reports false with
// the existing reservation when the reference already holds active lines.
// A reference whose lines were committed cannot reserve again.
func reserveLines(ctx context.Context, tx repository.Tx, refType, refID string, lines []domain.StockLine, expiresAt *time.Time, now time.Time) (*domain.Reservation, bool, error) {
	existing, err := tx.LockReservationLines(ctx, refType, refID)
	if err != nil {
		return nil, false, err
	}
	switch status := domain.AggregateStatus(existing); status {
	case domain.ReservationStatusActive:
		return domain.NewReservation(refType, refID, existing), false, nil
	case domain.ReservationStatusCommitted:
		return nil, false, apperrors.InvalidStateTransition("reservation", status, domain.ReservationStatusActive)
	}

	keys := make([]domain.StockKey, 0, len(lines))
	for _, l := range lines {
		keys = append(keys, l.Key())
	}
	levels, err := tx.LockLevels(ctx, keys, false)
	if err != nil {
		return nil, false, err
	}

	held := make([]domain.ReservationLine, 0, len(lines))
	for _, l := range lines {
		level, ok := levels[l.Key()]
		available := 0
		if ok {
			available = level.Available()
		}
		if l.Quantity > available {
			return nil, false, apperrors.InsufficientStock(l.Key().String(), l.Quantity, available)
		}

		level.QuantityReserved += l.Quantity
		level.UpdatedAt = now
		level.Recompute()
		if err := tx.SaveLevel(ctx, level); err != nil {
			return nil, false, err
		}

		held = append(held, domain.ReservationLine{
			ID:            uuid.New().String(),
			ReferenceType: refType,
			ReferenceID:   refID,
			ProductID:     l.ProductID,
			VariantID:     l.VariantID,
			LocationID:    l.LocationID,
			Quantity:      l.Quantity,
			Status:        domain.ReservationStatusActive,
			ExpiresAt:     expiresAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := tx.InsertReservationLines(ctx, held); err != nil {
		return nil, false, err
	}

	return domain.NewReservation(refType, refID, append(existing, held...)), true, nil
}

// releaseLines gives the quantity of every active line selected by match
// back to its level and moves the line to status. lines is updated in place.
func releaseLines(ctx context.Context, tx repository.Tx, lines []domain.ReservationLine, status string, now time.Time, match func(*domain.ReservationLine) bool) (bool, error) {
	changed := false
	for i := range lines {
		line := &lines[i]
		if !line.IsActive() || !match(line) {
			continue
		}
		if err := releaseQuantity(ctx, tx, line.Key(), line.Quantity, now); err != nil {
			return false, err
		}
		line.Status = status
		line.UpdatedAt = now
		if err := tx.UpdateReservationLine(ctx, line); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// releaseQuantity lowers the reserved quantity of key. It never goes below
// zero so a drifted row cannot block a release; reconciliation repairs it.
func releaseQuantity(ctx context.Context, tx repository.Tx, key domain.StockKey, quantity int, now time.Time) error {
	if quantity <= 0 {
		return nil
	}
	levels, err := tx.LockLevels(ctx, []domain.StockKey{key}, false)
	if err != nil {
		return err
	}
	level, ok := levels[key]
	if !ok {
		return nil
	}
	level.QuantityReserved -= min(quantity, level.QuantityReserved)
	level.UpdatedAt = now
	level.Recompute()
	return tx.SaveLevel(ctx, level)
}
