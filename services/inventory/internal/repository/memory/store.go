// Package memory is an in-process implementation of the inventory
// repositories. A unit of work runs against a private copy of the state that
// replaces the shared state only when it succeeds, so it has the same
// all-or-nothing behaviour as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
)

type state struct {
	levels       map[domain.StockKey]domain.StockLevel
	movements    []domain.Movement
	reservations []domain.ReservationLine
	transfers    map[string]domain.Transfer
}

func newState() *state {
	return &state{
		levels:    make(map[domain.StockKey]domain.StockLevel),
		transfers: make(map[string]domain.Transfer),
	}
}

func (s *state) clone() *state {
	c := &state{
		levels:       make(map[domain.StockKey]domain.StockLevel, len(s.levels)),
		movements:    slices.Clone(s.movements),
		reservations: slices.Clone(s.reservations),
		transfers:    make(map[string]domain.Transfer, len(s.transfers)),
	}
	for k, v := range s.levels {
		c.levels[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = copyTransfer(v)
	}
	return c
}

func copyTransfer(t domain.Transfer) domain.Transfer {
	items := make([]domain.TransferItem, len(t.Items))
	for i, item := range t.Items {
		items[i] = item
		if item.QuantityReceived != nil {
			q := *item.QuantityReceived
			items[i].QuantityReceived = &q
		}
	}
	t.Items = items
	return t
}

// Store keeps the ledger in memory. Units of work are serialised.
type Store struct {
	mu                sync.Mutex
	state             *state
	faults            map[string]error
	lowStockThreshold int
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state:             newState(),
		faults:            make(map[string]error),
		lowStockThreshold: domain.DefaultLowStockThreshold,
	}
}

// WithLowStockThreshold sets the threshold given to rows created by movements.
func (s *Store) WithLowStockThreshold(n int) *Store {
	s.lowStockThreshold = n
	return s
}

var (
	_ repository.Reader     = (*Store)(nil)
	_ repository.UnitOfWork = (*Store)(nil)
	_ repository.Tx         = (*tx)(nil)
)

// InjectFault makes the named Tx operation fail with err until cleared with
// a nil error. Used to exercise rollback paths.
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Do runs fn against a copy of the state and publishes the copy on success.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work, faults: s.faults, lowStockThreshold: s.lowStockThreshold}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// SetLevel seeds a level directly, bypassing the movement log. Tests use it
// to create drift for reconciliation.
func (s *Store) SetLevel(level domain.StockLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level.ID == "" {
		level.ID = uuid.New().String()
	}
	level.Recompute()
	s.state.levels[level.Key()] = level
}

// Movements returns a copy of the movement log in insertion order.
func (s *Store) Movements() []domain.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.movements)
}

type tx struct {
	st                *state
	faults            map[string]error
	lowStockThreshold int
}

func (t *tx) fault(op string) error {
	return t.faults[op]
}

func (t *tx) LockLevels(_ context.Context, keys []domain.StockKey, createMissing bool) (map[domain.StockKey]*domain.StockLevel, error) {
	if err := t.fault("LockLevels"); err != nil {
		return nil, err
	}
	out := make(map[domain.StockKey]*domain.StockLevel, len(keys))
	for _, key := range domain.SortedUniqueKeys(keys) {
		level, ok := t.st.levels[key]
		if !ok {
			if !createMissing {
				continue
			}
			level = *domain.NewStockLevel(uuid.New().String(), key, time.Now().UTC())
			level.LowStockThreshold = t.lowStockThreshold
			t.st.levels[key] = level
		}
		l := level
		out[key] = &l
	}
	return out, nil
}

func (t *tx) SaveLevel(_ context.Context, level *domain.StockLevel) error {
	if err := t.fault("SaveLevel"); err != nil {
		return err
	}
	key := level.Key()
	if _, ok := t.st.levels[key]; !ok {
		return apperrors.NotFound("stock level", level.ID)
	}
	saved := *level
	saved.Recompute()
	if err := saved.Validate(); err != nil {
		return fmt.Errorf("check constraint: %w", err)
	}
	t.st.levels[key] = saved
	return nil
}

func (t *tx) AppendMovement(_ context.Context, m *domain.Movement) error {
	if err := t.fault("AppendMovement"); err != nil {
		return err
	}
	t.st.movements = append(t.st.movements, *m)
	return nil
}

func (t *tx) LockReservationLines(_ context.Context, refType, refID string) ([]domain.ReservationLine, error) {
	return linesFor(t.st, refType, refID), nil
}

func (t *tx) InsertReservationLines(_ context.Context, lines []domain.ReservationLine) error {
	if err := t.fault("InsertReservationLines"); err != nil {
		return err
	}
	t.st.reservations = append(t.st.reservations, lines...)
	return nil
}

func (t *tx) UpdateReservationLine(_ context.Context, line *domain.ReservationLine) error {
	for i := range t.st.reservations {
		if t.st.reservations[i].ID == line.ID {
			t.st.reservations[i].Status = line.Status
			t.st.reservations[i].Quantity = line.Quantity
			t.st.reservations[i].UpdatedAt = line.UpdatedAt
			return nil
		}
	}
	return apperrors.NotFound("reservation line", line.ID)
}

func (t *tx) InsertTransfer(_ context.Context, tr *domain.Transfer) error {
	if _, ok := t.st.transfers[tr.ID]; ok {
		return apperrors.AlreadyExists("transfer", "id", tr.ID)
	}
	t.st.transfers[tr.ID] = copyTransfer(*tr)
	return nil
}

func (t *tx) LockTransfer(_ context.Context, id string) (*domain.Transfer, error) {
	tr, ok := t.st.transfers[id]
	if !ok {
		return nil, apperrors.NotFound("transfer", id)
	}
	c := copyTransfer(tr)
	return &c, nil
}

func (t *tx) SaveTransfer(_ context.Context, tr *domain.Transfer) error {
	if err := t.fault("SaveTransfer"); err != nil {
		return err
	}
	if _, ok := t.st.transfers[tr.ID]; !ok {
		return apperrors.NotFound("transfer", tr.ID)
	}
	t.st.transfers[tr.ID] = copyTransfer(*tr)
	return nil
}

func (t *tx) SumMovementEffects(_ context.Context, key domain.StockKey) (int, error) {
	total := 0
	for i := range t.st.movements {
		for _, d := range t.st.movements[i].Effects() {
			if d.Key == key {
				total += d.Quantity
			}
		}
	}
	return total, nil
}

func (t *tx) SumActiveReserved(_ context.Context, key domain.StockKey) (int, error) {
	total := 0
	for i := range t.st.reservations {
		l := &t.st.reservations[i]
		if l.IsActive() && l.Key() == key {
			total += l.Quantity
		}
	}
	return total, nil
}

func linesFor(st *state, refType, refID string) []domain.ReservationLine {
	lines := []domain.ReservationLine{}
	for _, l := range st.reservations {
		if l.ReferenceType == refType && l.ReferenceID == refID {
			lines = append(lines, l)
		}
	}
	slices.SortStableFunc(lines, func(a, b domain.ReservationLine) int {
		return domain.CompareKeys(a.Key(), b.Key())
	})
	return lines
}

// --- Reader ---

func (s *Store) GetLevels(_ context.Context, filter repository.LevelFilter) ([]domain.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	levels := []domain.StockLevel{}
	for _, l := range s.state.levels {
		if filter.ProductID != "" && l.ProductID != filter.ProductID {
			continue
		}
		if filter.VariantID != "" && l.VariantID != filter.VariantID {
			continue
		}
		if filter.LocationID != "" && l.LocationID != filter.LocationID {
			continue
		}
		if filter.LowStock && !l.IsLowStock() {
			continue
		}
		levels = append(levels, l)
	}
	slices.SortFunc(levels, func(a, b domain.StockLevel) int {
		return domain.CompareKeys(a.Key(), b.Key())
	})
	return levels, nil
}

func (s *Store) GetLevelsByKeys(_ context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.StockKey]domain.StockLevel, len(keys))
	for _, k := range keys {
		if l, ok := s.state.levels[k]; ok {
			out[k] = l
		}
	}
	return out, nil
}

func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter, page, perPage int) ([]domain.Movement, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	var matched []domain.Movement
	for i := len(s.state.movements) - 1; i >= 0; i-- {
		m := s.state.movements[i]
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.VariantID != "" && m.VariantID != filter.VariantID {
			continue
		}
		if filter.LocationID != "" && m.FromLocationID != filter.LocationID && m.ToLocationID != filter.LocationID {
			continue
		}
		if filter.MovementType != "" && m.MovementType != filter.MovementType {
			continue
		}
		if filter.ReferenceID != "" && m.ReferenceID != filter.ReferenceID {
			continue
		}
		matched = append(matched, m)
	}

	total := len(matched)
	start := (page - 1) * perPage
	if start >= total {
		return []domain.Movement{}, total, nil
	}
	end := min(start+perPage, total)
	return matched[start:end], total, nil
}

func (s *Store) GetReservationLines(_ context.Context, refType, refID string) ([]domain.ReservationLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return linesFor(s.state, refType, refID), nil
}

func (s *Store) ListExpiredReservations(_ context.Context, now time.Time, limit int) ([]domain.ReservationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[domain.ReservationRef]bool)
	refs := []domain.ReservationRef{}
	for i := range s.state.reservations {
		l := &s.state.reservations[i]
		if !l.IsExpired(now) {
			continue
		}
		ref := domain.ReservationRef{ReferenceType: l.ReferenceType, ReferenceID: l.ReferenceID}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
		if limit > 0 && len(refs) == limit {
			break
		}
	}
	return refs, nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.state.transfers[id]
	if !ok {
		return nil, apperrors.NotFound("transfer", id)
	}
	c := copyTransfer(tr)
	return &c, nil
}

func (s *Store) ListLedgerKeys(_ context.Context, productID string) ([]domain.StockKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []domain.StockKey
	for k := range s.state.levels {
		keys = append(keys, k)
	}
	for i := range s.state.movements {
		keys = append(keys, s.state.movements[i].Keys()...)
	}

	out := []domain.StockKey{}
	for _, k := range domain.SortedUniqueKeys(keys) {
		if k.LocationID == "" || (productID != "" && k.ProductID != productID) {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}
