package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/manual"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/simulated"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
	"github.com/utafrali/commerce-core/services/payment/internal/repository/memory"
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

func (p *recordingPublisher) PublishPaymentSucceeded(_ context.Context, payment *domain.Payment) error {
	return p.record(published{kind: "payment", status: domain.PaymentStatusSucceeded, key: payment.ID})
}

func (p *recordingPublisher) PublishPaymentFailed(_ context.Context, payment *domain.Payment) error {
	return p.record(published{kind: "payment", status: domain.PaymentStatusFailed, key: payment.ID})
}

func (p *recordingPublisher) PublishPaymentRefunded(_ context.Context, payment *domain.Payment, _ *domain.Refund) error {
	return p.record(published{kind: "refund", status: payment.Status, key: payment.ID})
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, order *domain.Order, _ int64) error {
	return p.record(published{kind: "order_paid", key: order.ID})
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

// --- Fake order service ---

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	updates   []string
	updateErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]*domain.Order)}
}

func (f *fakeOrders) put(o *domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	c := *o
	return &c, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	o, ok := f.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.Status = status
	f.updates = append(f.updates, id+":"+status)
	return nil
}

func (f *fakeOrders) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}

func (f *fakeOrders) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// --- Fake guard ---

type fakeGuard struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{seen: make(map[string]bool)}
}

func (g *fakeGuard) CheckAndMark(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *fakeGuard) Delete(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}

func (g *fakeGuard) has(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[key]
}

// --- Test Helpers ---

const (
	testStore     = "store-1"
	testSecret    = "whsec_test"
	methodSim     = "pm-sim"
	methodCash    = "pm-cash"
	methodEUROnly = "pm-eur"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	store     *memory.Store
	publisher *recordingPublisher
	orders    *fakeOrders
	guard     *fakeGuard
	sim       *simulated.Processor
	registry  *processor.Registry
	payments  *PaymentService
	webhooks  *WebhookService
	methods   *MethodService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	orders := newFakeOrders()
	guard := newFakeGuard()
	sim := simulated.New(testSecret, 0)
	registry := processor.NewRegistry(sim, manual.New())
	logger := newTestLogger()
	payments := NewPaymentService(store, store, store, orders, registry, pub, logger, 200*time.Millisecond)

	env := &testEnv{
		store:     store,
		publisher: pub,
		orders:    orders,
		guard:     guard,
		sim:       sim,
		registry:  registry,
		payments:  payments,
		webhooks:  NewWebhookService(registry, payments, guard, logger),
		methods:   NewMethodService(store, registry, logger),
	}

	ctx := context.Background()
	for _, m := range []*domain.PaymentMethod{
		{ID: methodSim, StoreID: testStore, Type: domain.MethodTypeCard, ProcessorName: simulated.Name, Enabled: true, Currencies: []string{"USD"}},
		{ID: methodCash, StoreID: testStore, Type: domain.MethodTypeManual, ProcessorName: manual.Name, Enabled: true, Currencies: []string{"USD"}},
		{ID: methodEUROnly, StoreID: testStore, Type: domain.MethodTypeCard, ProcessorName: simulated.Name, Enabled: true, Currencies: []string{"EUR"}},
	} {
		require.NoError(t, store.CreateMethod(ctx, m))
	}
	return env
}

// order registers a pending USD order with the given total.
func (e *testEnv) order(id string, total int64) *domain.Order {
	o := &domain.Order{
		ID:          id,
		StoreID:     testStore,
		Status:      domain.OrderStatusPending,
		TotalAmount: total,
		Currency:    "USD",
		Items:       []domain.OrderItem{{ProductID: "prod-1", Quantity: 1}},
	}
	e.orders.put(o)
	return o
}

func (e *testEnv) pay(orderID, methodID string, amount int64) (*ProcessPaymentResult, error) {
	return e.payments.ProcessPayment(context.Background(), ProcessPaymentInput{
		OrderID:  orderID,
		StoreID:  testStore,
		MethodID: methodID,
		Amount:   amount,
		Currency: "USD",
	})
}

func (e *testEnv) payment(t *testing.T, id string) *domain.Payment {
	t.Helper()
	p, err := e.store.GetPayment(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) orderPayments(t *testing.T, orderID string) []domain.Payment {
	t.Helper()
	payments, err := e.store.ListOrderPayments(context.Background(), orderID)
	require.NoError(t, err)
	return payments
}

// deliver posts a signed simulated webhook to the ingestor.
func (e *testEnv) deliver(t *testing.T, body []byte, signature string) *WebhookResult {
	t.Helper()
	res, err := e.webhooks.Receive(context.Background(), simulated.Name, signature, body)
	require.NoError(t, err)
	return res
}

// age moves a payment's last update back by d.
func (e *testEnv) age(t *testing.T, paymentID string, d time.Duration) {
	t.Helper()
	require.NoError(t, e.store.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		p.UpdatedAt = p.UpdatedAt.Add(-d)
		return tx.UpdatePayment(ctx, p)
	}))
}

func int64Ptr(v int64) *int64 { return &v }

var (
	_ EventPublisher = (*recordingPublisher)(nil)
	_ OrderClient    = (*fakeOrders)(nil)
	_ Guard          = (*fakeGuard)(nil)
	_ Folder         = (*PaymentService)(nil)
)
