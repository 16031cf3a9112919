package processor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// threeDecimalCurrencies have a thousandth minor unit.
var threeDecimalCurrencies = map[string]bool{
	"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
}

// MinorUnitExponent returns the number of decimal places of currency.
func MinorUnitExponent(currency string) int32 {
	c := strings.ToUpper(currency)
	switch {
	case zeroDecimalCurrencies[c]:
		return 0
	case threeDecimalCurrencies[c]:
		return 3
	default:
		return 2
	}
}

// ToMajor converts an amount in minor units to a decimal in major units.
func ToMajor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -MinorUnitExponent(currency))
}

// ToMinor converts a major-unit decimal to minor units. Amounts finer than
// the currency's minor unit are rejected rather than rounded.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	minor := amount.Shift(MinorUnitExponent(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount.String(), currency)
	}
	return minor.IntPart(), nil
}
