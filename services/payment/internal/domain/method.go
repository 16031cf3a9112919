package domain

import (
	"slices"
	"strings"
	"time"
)

// Payment method types a store can enable.
const (
	MethodTypeCard   = "card"
	MethodTypeWallet = "wallet"
	MethodTypeManual = "manual"
)

// PaymentMethod is a payment option enabled by a store. It names the
// processor that executes payments made with it.
type PaymentMethod struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	Type          string    `json:"type"`
	ProcessorName string    `json:"processor_name"`
	Enabled       bool      `json:"enabled"`
	Currencies    []string  `json:"currencies"`
	MinAmount     int64     `json:"min_amount"`
	MaxAmount     int64     `json:"max_amount,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SupportsCurrency reports whether the method accepts currency. Codes are
// compared case-insensitively.
func (m *PaymentMethod) SupportsCurrency(currency string) bool {
	return slices.ContainsFunc(m.Currencies, func(c string) bool {
		return strings.EqualFold(c, currency)
	})
}

// IsValidMethodType checks whether the given type is a known method type.
func IsValidMethodType(t string) bool {
	switch t {
	case MethodTypeCard, MethodTypeWallet, MethodTypeManual:
		return true
	}
	return false
}
