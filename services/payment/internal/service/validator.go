package service

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

// WarningOrderFullyPaid is returned when an order has already been paid in
// full. The amount check then rejects any further payment.
const WarningOrderFullyPaid = "order already fully paid"

// Validator runs the pre-flight checks of a payment request. Every check is
// free of side effects.
type Validator struct {
	processors *processor.Registry
}

// NewValidator creates a validator that checks methods against processors.
func NewValidator(processors *processor.Registry) *Validator {
	return &Validator{processors: processors}
}

// ValidationRequest carries everything a payment request is checked against.
type ValidationRequest struct {
	Order    *domain.Order
	Method   *domain.PaymentMethod
	StoreID  string
	Amount   int64
	Currency string
	Totals   domain.OrderTotals
}

// ValidationResult is a request that passed every check.
type ValidationResult struct {
	Currency string
	Warnings []string
}

// ValidateOrder checks that the order can take a payment in storeID.
// captured is what the order has already collected.
func (v *Validator) ValidateOrder(order *domain.Order, storeID string, captured int64) ([]string, error) {
	if order == nil {
		return nil, apperrors.InvalidInput("order is required")
	}
	if order.StoreID != storeID {
		return nil, apperrors.InvalidInput("order does not belong to this store")
	}
	if order.IsCanceled() {
		return nil, apperrors.InvalidInput("order is canceled")
	}
	if len(order.Items) == 0 {
		return nil, apperrors.InvalidInput("order has no items")
	}
	if order.TotalAmount <= 0 {
		return nil, apperrors.InvalidInput("order total must be positive")
	}

	var warnings []string
	if captured >= order.TotalAmount {
		warnings = append(warnings, WarningOrderFullyPaid)
	}
	return warnings, nil
}

// ValidatePaymentMethod checks that the method is usable for storeID.
func (v *Validator) ValidatePaymentMethod(method *domain.PaymentMethod, storeID string) error {
	if method == nil {
		return apperrors.InvalidInput("payment method is required")
	}
	if method.StoreID != storeID {
		return apperrors.InvalidInput("payment method does not belong to this store")
	}
	if !method.Enabled {
		return apperrors.InvalidInput("payment method is disabled")
	}
	if _, ok := v.processors.Get(method.ProcessorName); !ok {
		return apperrors.InvalidInput(fmt.Sprintf("processor %q is not available", method.ProcessorName))
	}
	return nil
}

// ValidatePaymentAmount checks amount against the order's remaining balance
// and the method's limits. committed is the sum of captured and in-flight
// payments.
func (v *Validator) ValidatePaymentAmount(order *domain.Order, method *domain.PaymentMethod, amount, committed int64) error {
	if amount <= 0 {
		return apperrors.InvalidInput("amount must be positive")
	}
	if remaining := order.TotalAmount - committed; amount > remaining {
		return apperrors.InvalidInput(fmt.Sprintf("amount %d exceeds remaining balance %d", amount, max(remaining, 0)))
	}
	if method != nil {
		if amount < method.MinAmount {
			return apperrors.InvalidInput(fmt.Sprintf("amount %d is below the method minimum %d", amount, method.MinAmount))
		}
		if method.MaxAmount > 0 && amount > method.MaxAmount {
			return apperrors.InvalidInput(fmt.Sprintf("amount %d is above the method maximum %d", amount, method.MaxAmount))
		}
	}
	return nil
}

// ValidateCurrency normalises currency and checks it against the order and
// the method.
func (v *Validator) ValidateCurrency(currency string, order *domain.Order, method *domain.PaymentMethod) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "", apperrors.InvalidInput("currency is required")
	}
	if !isCurrencyCode(currency) {
		return "", apperrors.InvalidInput(fmt.Sprintf("currency %q must be a 3-letter code", currency))
	}
	if method != nil && !method.SupportsCurrency(currency) {
		return "", apperrors.InvalidInput(fmt.Sprintf("currency %s is not supported by this payment method", currency))
	}
	if !strings.EqualFold(order.Currency, currency) {
		return "", apperrors.InvalidInput(fmt.Sprintf("currency %s does not match order currency %s", currency, order.Currency))
	}
	return currency, nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// Validate runs every check in order and stops at the first failure.
func (v *Validator) Validate(ctx context.Context, req ValidationRequest) (*ValidationResult, error) {
	result := &ValidationResult{}

	checks := []func() error{
		func() error {
			warnings, err := v.ValidateOrder(req.Order, req.StoreID, req.Totals.Captured)
			result.Warnings = warnings
			return err
		},
		func() error {
			return v.ValidatePaymentMethod(req.Method, req.StoreID)
		},
		func() error {
			return v.ValidatePaymentAmount(req.Order, req.Method, req.Amount, req.Totals.Committed())
		},
		func() error {
			currency, err := v.ValidateCurrency(req.Currency, req.Order, req.Method)
			result.Currency = currency
			return err
		},
	}

	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := check(); err != nil {
			return nil, err
		}
	}
	return result, nil
}
