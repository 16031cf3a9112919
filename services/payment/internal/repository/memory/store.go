// Package memory is an in-process implementation of the payment
// repositories. A unit of work runs against a private copy of the state that
// replaces the shared state only when it succeeds.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

type state struct {
	payments map[string]domain.Payment
	refunds  []domain.Refund
}

func newState() *state {
	return &state{payments: make(map[string]domain.Payment)}
}

func (s *state) clone() *state {
	c := &state{
		payments: make(map[string]domain.Payment, len(s.payments)),
		refunds:  slices.Clone(s.refunds),
	}
	for k, v := range s.payments {
		c.payments[k] = copyPayment(v)
	}
	return c
}

func copyPayment(p domain.Payment) domain.Payment {
	if p.NextAction != nil {
		a := *p.NextAction
		p.NextAction = &a
	}
	if p.PaidAt != nil {
		t := *p.PaidAt
		p.PaidAt = &t
	}
	p.GatewayResponse = slices.Clone(p.GatewayResponse)
	return p
}

func copyMethod(m domain.PaymentMethod) domain.PaymentMethod {
	m.Currencies = slices.Clone(m.Currencies)
	return m
}

// Store keeps payments in memory. Units of work are serialised, which also
// serialises attempts per order.
type Store struct {
	mu      sync.Mutex
	state   *state
	methods map[string]domain.PaymentMethod
	faults  map[string]error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state:   newState(),
		methods: make(map[string]domain.PaymentMethod),
		faults:  make(map[string]error),
	}
}

var (
	_ repository.Reader           = (*Store)(nil)
	_ repository.MethodRepository = (*Store)(nil)
	_ repository.UnitOfWork       = (*Store)(nil)
	_ repository.Tx               = (*tx)(nil)
)

// InjectFault makes the named Tx operation fail with err until cleared with
// a nil error.
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
	if err := fn(ctx, &tx{st: work, faults: s.faults}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Refunds returns every refund in insertion order.
func (s *Store) Refunds() []domain.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.refunds)
}

type tx struct {
	st     *state
	faults map[string]error
}

func (t *tx) fault(op string) error {
	return t.faults[op]
}

func (t *tx) LockOrder(_ context.Context, _ string) error {
	return t.fault("LockOrder")
}

func (t *tx) OrderTotals(_ context.Context, orderID string) (domain.OrderTotals, error) {
	return totalsFor(t.st, orderID), nil
}

func (t *tx) InsertPayment(_ context.Context, p *domain.Payment) error {
	if err := t.fault("InsertPayment"); err != nil {
		return err
	}
	if _, ok := t.st.payments[p.ID]; ok {
		return apperrors.AlreadyExists("payment", "id", p.ID)
	}
	if p.TransactionID != "" && transactionTaken(t.st, p.TransactionID, p.ID) {
		return repository.ErrDuplicateTransaction
	}
	t.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (t *tx) LockPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, apperrors.NotFound("payment", id)
	}
	c := copyPayment(p)
	return &c, nil
}

func (t *tx) LockPaymentByTransaction(_ context.Context, transactionID string) (*domain.Payment, error) {
	p, ok := byTransaction(t.st, transactionID)
	if !ok {
		return nil, apperrors.NotFound("payment", transactionID)
	}
	return &p, nil
}

func (t *tx) UpdatePayment(_ context.Context, p *domain.Payment) error {
	if err := t.fault("UpdatePayment"); err != nil {
		return err
	}
	if _, ok := t.st.payments[p.ID]; !ok {
		return apperrors.NotFound("payment", p.ID)
	}
	if p.TransactionID != "" && transactionTaken(t.st, p.TransactionID, p.ID) {
		return repository.ErrDuplicateTransaction
	}
	if p.RefundedAmount < 0 || p.RefundedAmount > p.Amount {
		return apperrors.InvalidInput("refunded amount out of range")
	}
	t.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (t *tx) DeletePayment(_ context.Context, id string) error {
	delete(t.st.payments, id)
	return nil
}

func (t *tx) InsertRefund(_ context.Context, r *domain.Refund) error {
	if err := t.fault("InsertRefund"); err != nil {
		return err
	}
	if r.ExternalRefundID != "" {
		if existing := t.findRefund(func(x *domain.Refund) bool {
			return x.PaymentID == r.PaymentID && x.ExternalRefundID == r.ExternalRefundID
		}); existing != nil {
			return apperrors.AlreadyExists("refund", "external_refund_id", r.ExternalRefundID)
		}
	}
	t.st.refunds = append(t.st.refunds, *r)
	return nil
}

func (t *tx) LockRefund(_ context.Context, id string) (*domain.Refund, error) {
	r := t.findRefund(func(x *domain.Refund) bool { return x.ID == id })
	if r == nil {
		return nil, apperrors.NotFound("refund", id)
	}
	return r, nil
}

func (t *tx) UpdateRefund(_ context.Context, r *domain.Refund) error {
	if err := t.fault("UpdateRefund"); err != nil {
		return err
	}
	for i := range t.st.refunds {
		if t.st.refunds[i].ID == r.ID {
			t.st.refunds[i].Status = r.Status
			t.st.refunds[i].ExternalRefundID = r.ExternalRefundID
			t.st.refunds[i].UpdatedAt = r.UpdatedAt
			return nil
		}
	}
	return apperrors.NotFound("refund", r.ID)
}

func (t *tx) FindRefundByExternalID(_ context.Context, paymentID, externalID string) (*domain.Refund, error) {
	return t.findRefund(func(x *domain.Refund) bool {
		return x.PaymentID == paymentID && x.ExternalRefundID == externalID
	}), nil
}

func (t *tx) FindPendingRefund(_ context.Context, paymentID string, amount int64) (*domain.Refund, error) {
	return t.findRefund(func(x *domain.Refund) bool {
		return x.PaymentID == paymentID && x.Amount == amount &&
			x.Status == domain.RefundStatusPending && x.ExternalRefundID == ""
	}), nil
}

func (t *tx) ReservedRefundTotal(_ context.Context, paymentID string) (int64, error) {
	var total int64
	for i := range t.st.refunds {
		r := &t.st.refunds[i]
		if r.PaymentID == paymentID && r.HoldsBalance() {
			total += r.Amount
		}
	}
	return total, nil
}

func (t *tx) findRefund(match func(*domain.Refund) bool) *domain.Refund {
	for i := range t.st.refunds {
		if match(&t.st.refunds[i]) {
			r := t.st.refunds[i]
			return &r
		}
	}
	return nil
}

func byTransaction(st *state, transactionID string) (domain.Payment, bool) {
	for _, p := range st.payments {
		if p.TransactionID == transactionID {
			return copyPayment(p), true
		}
	}
	return domain.Payment{}, false
}

func transactionTaken(st *state, transactionID, exceptID string) bool {
	for id, p := range st.payments {
		if id != exceptID && p.TransactionID == transactionID {
			return true
		}
	}
	return false
}

func totalsFor(st *state, orderID string) domain.OrderTotals {
	var totals domain.OrderTotals
	now := time.Now().UTC()
	for _, p := range st.payments {
		if p.OrderID != orderID {
			continue
		}
		switch {
		case p.IsCaptured():
			totals.Captured += p.Amount
		case p.HoldsBalance(now):
			totals.InFlight += p.Amount
		}
	}
	return totals
}

// --- Reader ---

func (s *Store) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.payments[id]
	if !ok {
		return nil, apperrors.NotFound("payment", id)
	}
	c := copyPayment(p)
	return &c, nil
}

func (s *Store) GetPaymentByTransaction(_ context.Context, transactionID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := byTransaction(s.state, transactionID)
	if !ok {
		return nil, apperrors.NotFound("payment", transactionID)
	}
	return &p, nil
}

func (s *Store) ListOrderPayments(_ context.Context, orderID string) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payments := []domain.Payment{}
	for _, p := range s.state.payments {
		if p.OrderID == orderID {
			payments = append(payments, copyPayment(p))
		}
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return payments, nil
}

func (s *Store) ListRefunds(_ context.Context, paymentID string) ([]domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refunds := []domain.Refund{}
	for _, r := range s.state.refunds {
		if r.PaymentID == paymentID {
			refunds = append(refunds, r)
		}
	}
	return refunds, nil
}

func (s *Store) OrderTotals(_ context.Context, orderID string) (domain.OrderTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalsFor(s.state, orderID), nil
}

// --- Payment methods ---

func (s *Store) GetMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[id]
	if !ok {
		return nil, apperrors.NotFound("payment method", id)
	}
	c := copyMethod(m)
	return &c, nil
}

func (s *Store) ListStoreMethods(_ context.Context, storeID string) ([]domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	methods := []domain.PaymentMethod{}
	for _, m := range s.methods {
		if m.StoreID == storeID {
			methods = append(methods, copyMethod(m))
		}
	}
	slices.SortFunc(methods, func(a, b domain.PaymentMethod) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return methods, nil
}

func (s *Store) CreateMethod(_ context.Context, m *domain.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[m.ID]; ok {
		return apperrors.AlreadyExists("payment method", "id", m.ID)
	}
	s.methods[m.ID] = copyMethod(*m)
	return nil
}

func (s *Store) UpdateMethod(_ context.Context, m *domain.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[m.ID]; !ok {
		return apperrors.NotFound("payment method", m.ID)
	}
	s.methods[m.ID] = copyMethod(*m)
	return nil
}
