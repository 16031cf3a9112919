package domain

import (
	"time"
)

// Refund status constants.
const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

// Refund returns part or all of a captured payment.
type Refund struct {
	ID               string    `json:"id"`
	PaymentID        string    `json:"payment_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	ExternalRefundID string    `json:"external_refund_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ValidRefundStatuses returns all valid refund statuses.
func ValidRefundStatuses() []string {
	return []string{
		RefundStatusPending,
		RefundStatusSucceeded,
		RefundStatusFailed,
	}
}

// IsValidRefundStatus checks whether the given status is a valid refund status.
func IsValidRefundStatus(status string) bool {
	for _, s := range ValidRefundStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the refund may settle to status. Only a
// pending refund moves.
func (r *Refund) CanTransitionTo(status string) bool {
	return r.Status == RefundStatusPending &&
		(status == RefundStatusSucceeded || status == RefundStatusFailed)
}

// HoldsBalance reports whether the refund counts against the refundable
// balance of its payment.
func (r *Refund) HoldsBalance() bool {
	return r.Status == RefundStatusPending || r.Status == RefundStatusSucceeded
}
