package domain

import (
	"time"
)

// Reference types that can hold reservations.
const (
	ReferenceOrder    = "order"
	ReferenceTransfer = "transfer"
)

// IsValidReferenceType checks whether t can hold reservations.
func IsValidReferenceType(t string) bool {
	return t == ReferenceOrder || t == ReferenceTransfer
}

// Reservation line status constants.
const (
	ReservationStatusActive    = "active"
	ReservationStatusCommitted = "committed"
	ReservationStatusReleased  = "released"
	ReservationStatusExpired   = "expired"
)

// ReservationLine is a quantity held against one stock level on behalf of
// an order or transfer.
type ReservationLine struct {
	ID            string     `json:"id"`
	ReferenceType string     `json:"reference_type"`
	ReferenceID   string     `json:"reference_id"`
	ProductID     string     `json:"product_id"`
	VariantID     string     `json:"variant_id,omitempty"`
	LocationID    string     `json:"location_id"`
	Quantity      int        `json:"quantity"`
	Status        string     `json:"status"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Key returns the SKU-location key of the line.
func (l *ReservationLine) Key() StockKey {
	return StockKey{ProductID: l.ProductID, VariantID: l.VariantID, LocationID: l.LocationID}
}

// IsActive returns true if the line still holds stock.
func (l *ReservationLine) IsActive() bool {
	return l.Status == ReservationStatusActive
}

// IsExpired reports whether an active line has passed its expiry.
func (l *ReservationLine) IsExpired(now time.Time) bool {
	return l.IsActive() && l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Reservation groups the lines held for one reference.
type Reservation struct {
	ReferenceType string            `json:"reference_type"`
	ReferenceID   string            `json:"reference_id"`
	Status        string            `json:"status"`
	Lines         []ReservationLine `json:"lines"`
}

// NewReservation builds the aggregate view over lines of one reference.
func NewReservation(refType, refID string, lines []ReservationLine) *Reservation {
	if lines == nil {
		lines = []ReservationLine{}
	}
	return &Reservation{
		ReferenceType: refType,
		ReferenceID:   refID,
		Status:        AggregateStatus(lines),
		Lines:         lines,
	}
}

// AggregateStatus summarises line statuses: active wins, then committed,
// then released, then expired. An empty set has no status.
func AggregateStatus(lines []ReservationLine) string {
	seen := make(map[string]bool, 4)
	for _, l := range lines {
		seen[l.Status] = true
	}
	for _, s := range []string{
		ReservationStatusActive, ReservationStatusCommitted,
		ReservationStatusReleased, ReservationStatusExpired,
	} {
		if seen[s] {
			return s
		}
	}
	return ""
}

// ActiveLines returns the lines still holding stock.
func (r *Reservation) ActiveLines() []ReservationLine {
	var out []ReservationLine
	for _, l := range r.Lines {
		if l.IsActive() {
			out = append(out, l)
		}
	}
	return out
}

// ReservationRef names a reference holding reservations.
type ReservationRef struct {
	ReferenceType string
	ReferenceID   string
}
