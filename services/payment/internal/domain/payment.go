package domain

import (
	"encoding/json"
	"time"
)

// Payment status constants.
const (
	PaymentStatusPending           = "pending"
	PaymentStatusAuthorized        = "authorized"
	PaymentStatusSucceeded         = "succeeded"
	PaymentStatusFailed            = "failed"
	PaymentStatusPartiallyRefunded = "partially_refunded"
	PaymentStatusRefunded          = "refunded"
)

// Next action types a processor can ask the customer to complete.
const (
	NextActionRedirect  = "redirect"
	NextActionChallenge = "challenge"
)

// paymentTransitions lists the forward moves of the payment state machine.
// Refund statuses are reached through ApplyRefund, never directly.
var paymentTransitions = map[string][]string{
	PaymentStatusPending:    {PaymentStatusAuthorized, PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusAuthorized: {PaymentStatusSucceeded, PaymentStatusFailed},
}

// ValidPaymentStatuses returns all valid payment statuses.
func ValidPaymentStatuses() []string {
	return []string{
		PaymentStatusPending,
		PaymentStatusAuthorized,
		PaymentStatusSucceeded,
		PaymentStatusFailed,
		PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded,
	}
}

// IsValidPaymentStatus checks whether the given status is a valid payment status.
func IsValidPaymentStatus(status string) bool {
	for _, s := range ValidPaymentStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// NextAction is a customer step (3-D Secure challenge, wallet redirect) that
// must complete before the processor settles the payment.
type NextAction struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Payment is one attempt to collect money for an order. A row is inserted
// before the processor is called and carries no transaction id until the
// processor answers.
type Payment struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	StoreID         string          `json:"store_id"`
	MethodID        string          `json:"payment_method_id"`
	ProcessorName   string          `json:"processor_name"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Amount          int64           `json:"amount"`
	RefundedAmount  int64           `json:"refunded_amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	NextAction      *NextAction     `json:"next_action,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Inconclusive    bool            `json:"inconclusive,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsInFlight reports whether the processor has not settled the payment yet.
func (p *Payment) IsInFlight() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusAuthorized
}

// HoldsBalance reports whether the payment still counts against the order
// total at now: it is in flight, or its processor call ended without an
// answer less than InconclusiveHold ago and a late success may still arrive.
func (p *Payment) HoldsBalance(now time.Time) bool {
	if p.IsInFlight() {
		return true
	}
	return p.Status == PaymentStatusFailed && p.Inconclusive && now.Sub(p.UpdatedAt) < InconclusiveHold
}

// IsCaptured reports whether money was taken, regardless of later refunds.
func (p *Payment) IsCaptured() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanRefund reports whether part of the payment can still be refunded.
func (p *Payment) CanRefund() bool {
	return p.Status == PaymentStatusSucceeded || p.Status == PaymentStatusPartiallyRefunded
}

// CanTransitionTo reports whether a processor-reported status may be applied.
// A failed attempt whose outcome was never confirmed (the processor call
// timed out) can still be settled by the processor.
func (p *Payment) CanTransitionTo(to string) bool {
	if p.Status == PaymentStatusFailed && p.Inconclusive {
		return to == PaymentStatusAuthorized || to == PaymentStatusSucceeded
	}
	for _, next := range paymentTransitions[p.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyStatus moves the payment to status and stamps paid_at on success.
// Callers check CanTransitionTo first.
func (p *Payment) ApplyStatus(status string, now time.Time) {
	p.Status = status
	p.Inconclusive = false
	p.UpdatedAt = now
	switch status {
	case PaymentStatusSucceeded:
		p.FailureReason = ""
		p.NextAction = nil
		if p.PaidAt == nil {
			paid := now
			p.PaidAt = &paid
		}
	case PaymentStatusFailed:
		p.NextAction = nil
	}
}

// Fail marks an attempt failed. An inconclusive failure stays open to a late
// success reported by the processor.
func (p *Payment) Fail(reason string, inconclusive bool, now time.Time) {
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	p.Inconclusive = inconclusive
	p.NextAction = nil
	p.UpdatedAt = now
}

// RefundableAmount returns what is left after refunds already settled.
func (p *Payment) RefundableAmount() int64 {
	return p.Amount - p.RefundedAmount
}

// ApplyRefund records a settled refund and derives the refund status.
func (p *Payment) ApplyRefund(amount int64, now time.Time) {
	p.RefundedAmount += amount
	if p.RefundedAmount >= p.Amount {
		p.Status = PaymentStatusRefunded
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
	p.UpdatedAt = now
}

// InconclusiveHold is how long an attempt with an unknown outcome keeps its
// amount reserved against the order.
const InconclusiveHold = 30 * time.Minute

// OrderTotals sums the payments of one order.
type OrderTotals struct {
	// Captured is the amount of payments that succeeded, before refunds.
	Captured int64 `json:"captured"`
	// InFlight is the amount of payments still waiting for the processor,
	// including attempts whose outcome is unknown (see HoldsBalance).
	InFlight int64 `json:"in_flight"`
}

// Committed is the amount no new payment may push past the order total.
func (t OrderTotals) Committed() int64 {
	return t.Captured + t.InFlight
}
