// Package money keeps amounts as int64 minor units and converts at the edges.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// exponents lists ISO 4217 currencies whose minor unit is not a hundredth.
var exponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"MGA": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Exponent is the number of decimal places in currency's major unit; 2 when unknown.
func Exponent(currency string) int32 {
	if e, ok := exponents[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// Format renders minor units as a major-unit string, e.g. 1234 usd -> "12.34" and
// 1234 jpy -> "1234".
func Format(minor int64, currency string) string {
	e := Exponent(currency)
	return decimal.New(minor, -e).StringFixed(e)
}

// Parse converts a major-unit decimal string into minor units of currency,
// rounding half away from zero.
func Parse(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d.Shift(Exponent(currency)).Round(0).IntPart(), nil
}

// ApplyRate returns amount*rate rounded to the nearest minor unit.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// Percent returns pct percent of amount.
func Percent(amount, pct int64) int64 {
	return ApplyRate(amount, decimal.New(pct, -2))
}
