package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository/memory"
)

// --- Recording publisher ---

type published struct {
	kind   string
	status string
	key    string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) record(e published) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishMovementApplied(_ context.Context, m *domain.Movement, _ []domain.StockLevel) error {
	return p.record(published{kind: "movement_applied", status: string(m.MovementType), key: m.ProductID})
}

func (p *recordingPublisher) PublishLowStock(_ context.Context, level *domain.StockLevel) error {
	return p.record(published{kind: "low_stock", key: level.Key().String()})
}

func (p *recordingPublisher) PublishReservation(_ context.Context, status string, r *domain.Reservation) error {
	return p.record(published{kind: "reservation", status: status, key: r.ReferenceID})
}

func (p *recordingPublisher) PublishTransferStatusChanged(_ context.Context, t *domain.Transfer, _, _ string) error {
	return p.record(published{kind: "transfer", status: t.Status, key: t.ID})
}

func (p *recordingPublisher) PublishStockCorrected(_ context.Context, c *domain.Correction) error {
	return p.record(published{kind: "stock_corrected", key: c.Key.String()})
}

func (p *recordingPublisher) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) has(kind, status string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.kind == kind && e.status == status {
			return true
		}
	}
	return false
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	store        *memory.Store
	publisher    *recordingPublisher
	ledger       *LedgerService
	reservations *ReservationService
	transfers    *TransferService
	reconcile    *ReconcileService
}

func newTestEnv() *testEnv {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	logger := newTestLogger()
	return &testEnv{
		store:        store,
		publisher:    pub,
		ledger:       NewLedgerService(store, store, pub, logger),
		reservations: NewReservationService(store, store, pub, logger, 0),
		transfers:    NewTransferService(store, store, pub, logger),
		reconcile:    NewReconcileService(store, store, pub, logger),
	}
}

// stockIn receives quantity at key through the movement applier.
func (e *testEnv) stockIn(t *testing.T, key domain.StockKey, quantity int) {
	t.Helper()
	_, err := e.ledger.ApplyMovement(context.Background(), ApplyMovementInput{
		MovementType: domain.MovementStockIn,
		ProductID:    key.ProductID,
		VariantID:    key.VariantID,
		ToLocationID: key.LocationID,
		Quantity:     quantity,
		Actor:        "staff-1",
	})
	require.NoError(t, err)
}

// level returns the current level at key, zero when no row exists.
func (e *testEnv) level(t *testing.T, key domain.StockKey) domain.StockLevel {
	t.Helper()
	levels, err := e.store.GetLevelsByKeys(context.Background(), []domain.StockKey{key})
	require.NoError(t, err)
	return levels[key]
}

func (e *testEnv) hasLevel(t *testing.T, key domain.StockKey) bool {
	t.Helper()
	levels, err := e.store.GetLevelsByKeys(context.Background(), []domain.StockKey{key})
	require.NoError(t, err)
	_, ok := levels[key]
	return ok
}

// assertLedgerInvariants checks every row: all quantities non-negative and
// available = on hand - reserved.
func (e *testEnv) assertLedgerInvariants(t *testing.T) {
	t.Helper()
	keys, err := e.store.ListLedgerKeys(context.Background(), "")
	require.NoError(t, err)
	levels, err := e.store.GetLevelsByKeys(context.Background(), keys)
	require.NoError(t, err)
	for _, level := range levels {
		require.NoError(t, level.Validate())
	}
}

func line(key domain.StockKey, quantity int) domain.StockLine {
	return domain.StockLine{ProductID: key.ProductID, VariantID: key.VariantID, LocationID: key.LocationID, Quantity: quantity}
}

var (
	keyL  = domain.StockKey{ProductID: "prod-1", LocationID: "loc-l"}
	keyL2 = domain.StockKey{ProductID: "prod-1", LocationID: "loc-l2"}
	keyP2 = domain.StockKey{ProductID: "prod-2", VariantID: "red", LocationID: "loc-l"}
)

var (
	_ repository.UnitOfWork = (*memory.Store)(nil)
	_ EventPublisher        = (*recordingPublisher)(nil)
)
