package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/manual"
)

func newTestValidator() *Validator {
	return NewValidator(processor.NewRegistry(manual.New()))
}

func validOrder() *domain.Order {
	return &domain.Order{
		ID:          "ord-1",
		StoreID:     testStore,
		Status:      domain.OrderStatusPending,
		TotalAmount: 5000,
		Currency:    "USD",
		Items:       []domain.OrderItem{{ProductID: "prod-1", Quantity: 2}},
	}
}

func validMethod() *domain.PaymentMethod {
	return &domain.PaymentMethod{
		ID:            "pm-1",
		StoreID:       testStore,
		Type:          domain.MethodTypeManual,
		ProcessorName: manual.Name,
		Enabled:       true,
		Currencies:    []string{"USD", "EUR"},
	}
}

func TestValidator_ValidateOrder(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name    string
		mutate  func(o *domain.Order)
		storeID string
		wantErr string
	}{
		{name: "valid", storeID: testStore},
		{name: "other store", storeID: "store-2", wantErr: "does not belong"},
		{name: "canceled", storeID: testStore, mutate: func(o *domain.Order) { o.Status = domain.OrderStatusCanceled }, wantErr: "canceled"},
		{name: "no items", storeID: testStore, mutate: func(o *domain.Order) { o.Items = nil }, wantErr: "no items"},
		{name: "zero total", storeID: testStore, mutate: func(o *domain.Order) { o.TotalAmount = 0 }, wantErr: "total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			if tt.mutate != nil {
				tt.mutate(o)
			}
			warnings, err := v.ValidateOrder(o, tt.storeID, 0)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Empty(t, warnings)
				return
			}
			require.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_FullyPaidOrderWarnsThenRejectsAmount(t *testing.T) {
	v := newTestValidator()
	order := validOrder()

	warnings, err := v.ValidateOrder(order, testStore, 5000)
	require.NoError(t, err)
	assert.Equal(t, []string{WarningOrderFullyPaid}, warnings)

	err = v.ValidatePaymentAmount(order, validMethod(), 1, 5000)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestValidator_ValidatePaymentMethod(t *testing.T) {
	v := newTestValidator()

	require.NoError(t, v.ValidatePaymentMethod(validMethod(), testStore))

	disabled := validMethod()
	disabled.Enabled = false
	assert.ErrorIs(t, v.ValidatePaymentMethod(disabled, testStore), apperrors.ErrInvalidInput)

	assert.ErrorIs(t, v.ValidatePaymentMethod(validMethod(), "store-2"), apperrors.ErrInvalidInput)

	unavailable := validMethod()
	unavailable.ProcessorName = "card"
	err := v.ValidatePaymentMethod(unavailable, testStore)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), `"card"`)

	assert.ErrorIs(t, v.ValidatePaymentMethod(nil, testStore), apperrors.ErrInvalidInput)
}

func TestValidator_ValidatePaymentAmount(t *testing.T) {
	v := newTestValidator()
	order := validOrder()
	limited := validMethod()
	limited.MinAmount = 100
	limited.MaxAmount = 3000

	tests := []struct {
		name      string
		amount    int64
		committed int64
		method    *domain.PaymentMethod
		wantErr   bool
	}{
		{name: "whole balance", amount: 5000},
		{name: "remaining balance", amount: 2000, committed: 3000},
		{name: "zero", amount: 0, wantErr: true},
		{name: "negative", amount: -1, wantErr: true},
		{name: "over remaining", amount: 2001, committed: 3000, wantErr: true},
		{name: "in-flight counts", amount: 1, committed: 5000, wantErr: true},
		{name: "below method minimum", amount: 99, method: limited, wantErr: true},
		{name: "above method maximum", amount: 3001, method: limited, wantErr: true},
		{name: "within method limits", amount: 3000, method: limited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePaymentAmount(order, tt.method, tt.amount, tt.committed)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateCurrency(t *testing.T) {
	v := newTestValidator()
	order := validOrder()

	got, err := v.ValidateCurrency(" usd ", order, validMethod())
	require.NoError(t, err)
	assert.Equal(t, "USD", got)

	for _, bad := range []string{"", "USDX", "EUR", "GBP"} {
		_, err := v.ValidateCurrency(bad, order, validMethod())
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "currency %q", bad)
	}
}

func TestValidator_ValidateCurrency_RequiresThreeLetters(t *testing.T) {
	v := newTestValidator()

	for _, bad := range []string{"US", "U", "U$D", "12A", "US D"} {
		order := validOrder()
		order.Currency = bad
		method := validMethod()
		method.Currencies = []string{bad}

		_, err := v.ValidateCurrency(bad, order, method)

		require.ErrorIs(t, err, apperrors.ErrInvalidInput, "currency %q", bad)
		assert.Contains(t, err.Error(), "3-letter code")
	}
}

func TestValidator_Validate_ChecksAmountBeforeCurrency(t *testing.T) {
	v := newTestValidator()

	_, err := v.Validate(context.Background(), ValidationRequest{
		Order: validOrder(), Method: validMethod(), StoreID: testStore, Amount: 6000, Currency: "GBP",
	})

	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "exceeds remaining balance")
}

func TestValidator_Validate_ShortCircuitsOnFirstFailure(t *testing.T) {
	v := newTestValidator()
	order := validOrder()
	order.Status = domain.OrderStatusCanceled
	method := validMethod()
	method.Enabled = false

	_, err := v.Validate(context.Background(), ValidationRequest{
		Order: order, Method: method, StoreID: testStore, Amount: 100, Currency: "USD",
	})

	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "canceled")
}

func TestValidator_Validate_ReturnsNormalisedCurrency(t *testing.T) {
	v := newTestValidator()

	res, err := v.Validate(context.Background(), ValidationRequest{
		Order: validOrder(), Method: validMethod(), StoreID: testStore, Amount: 2500, Currency: "usd",
		Totals: domain.OrderTotals{Captured: 1000, InFlight: 1500},
	})

	require.NoError(t, err)
	assert.Equal(t, "USD", res.Currency)
	assert.Empty(t, res.Warnings)
}
