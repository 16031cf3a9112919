package repository

import (
	"context"
	"errors"

	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

// ErrDuplicateTransaction is returned when a payment write collides with
// another payment holding the same processor transaction id.
var ErrDuplicateTransaction = errors.New("duplicate transaction id")

// Tx is the view of the store available inside one unit of work.
type Tx interface {
	// LockOrder serialises payment attempts of one order until the unit of
	// work ends. No order row is needed.
	LockOrder(ctx context.Context, orderID string) error

	// OrderTotals sums captured and in-flight payments of an order.
	OrderTotals(ctx context.Context, orderID string) (domain.OrderTotals, error)

	// InsertPayment stores a new payment attempt.
	InsertPayment(ctx context.Context, payment *domain.Payment) error

	// LockPayment locks a payment by id. Missing rows are NotFound.
	LockPayment(ctx context.Context, id string) (*domain.Payment, error)

	// LockPaymentByTransaction locks a payment by processor transaction id.
	// Missing rows are NotFound.
	LockPaymentByTransaction(ctx context.Context, transactionID string) (*domain.Payment, error)

	// UpdatePayment writes the mutable fields of a locked payment. A
	// transaction id already held by another payment yields
	// ErrDuplicateTransaction.
	UpdatePayment(ctx context.Context, payment *domain.Payment) error

	// DeletePayment removes an attempt that turned out to be a duplicate.
	DeletePayment(ctx context.Context, id string) error

	// InsertRefund stores a new refund.
	InsertRefund(ctx context.Context, refund *domain.Refund) error

	// LockRefund locks a refund by id. Missing rows are NotFound.
	LockRefund(ctx context.Context, id string) (*domain.Refund, error)

	// UpdateRefund writes status and external id of a locked refund.
	UpdateRefund(ctx context.Context, refund *domain.Refund) error

	// FindRefundByExternalID returns the refund the processor knows as
	// externalID, or nil.
	FindRefundByExternalID(ctx context.Context, paymentID, externalID string) (*domain.Refund, error)

	// FindPendingRefund returns the oldest pending refund of amount that has
	// no external id yet, or nil.
	FindPendingRefund(ctx context.Context, paymentID string, amount int64) (*domain.Refund, error)

	// ReservedRefundTotal sums pending and succeeded refunds of a payment.
	ReservedRefundTotal(ctx context.Context, paymentID string) (int64, error)
}

// UnitOfWork runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves queries that need no locks.
type Reader interface {
	// GetPayment returns a payment by id.
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)

	// GetPaymentByTransaction returns a payment by processor transaction id.
	GetPaymentByTransaction(ctx context.Context, transactionID string) (*domain.Payment, error)

	// ListOrderPayments returns every attempt for an order, oldest first.
	ListOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error)

	// ListRefunds returns the refunds of a payment, oldest first.
	ListRefunds(ctx context.Context, paymentID string) ([]domain.Refund, error)

	// OrderTotals sums captured and in-flight payments of an order.
	OrderTotals(ctx context.Context, orderID string) (domain.OrderTotals, error)
}

// MethodRepository stores the payment methods stores enable.
type MethodRepository interface {
	// GetMethod returns a payment method by id.
	GetMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)

	// ListStoreMethods returns the methods of a store ordered by creation.
	ListStoreMethods(ctx context.Context, storeID string) ([]domain.PaymentMethod, error)

	// CreateMethod inserts a new payment method.
	CreateMethod(ctx context.Context, method *domain.PaymentMethod) error

	// UpdateMethod writes the mutable fields of a payment method.
	UpdateMethod(ctx context.Context, method *domain.PaymentMethod) error
}
