package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnitExponent lists currencies whose minor unit is not 1/100 of the major unit.
var minorUnitExponent = map[string]int32{
	"XOF": 0,
	"XAF": 0,
	"GNF": 0,
	"JPY": 0,
	"KWD": 3,
}

// CurrencyExponent returns the number of decimal places of a currency's minor unit.
func CurrencyExponent(currencyCode string) int32 {
	if exp, ok := minorUnitExponent[strings.ToUpper(currencyCode)]; ok {
		return exp
	}
	return 2
}

// FormatMinorUnits renders an integer minor-unit amount in major units.
// Example: 12345 USD returns "123.45"
// Example: 5000 XOF returns "5000"
func FormatMinorUnits(amount int64, currencyCode string) string {
	exp := CurrencyExponent(currencyCode)
	return decimal.New(amount, -exp).StringFixed(exp)
}
