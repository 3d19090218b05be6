// Package money provides the fixed-precision monetary primitives used by the
// pricing engine. All arithmetic runs on shopspring decimals; rounding to a
// currency's minor unit happens exactly once, at the line level, via
// RoundHalfUp.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value with fixed decimal precision.
type Money = decimal.Decimal

// Zero is the zero monetary value.
var Zero = decimal.Zero

// FromFloat converts a float into a Money value.
func FromFloat(f float64) Money {
	return decimal.NewFromFloat(f)
}

// FromInt converts an integer into a Money value.
func FromInt(i int64) Money {
	return decimal.NewFromInt(i)
}

// FromString parses a decimal string into a Money value.
func FromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses a decimal string and panics on failure. Intended for
// constants and tests.
func MustFromString(s string) Money {
	return decimal.RequireFromString(s)
}

// RoundHalfUp rounds m to the given number of decimal places with ties going
// away from zero towards the next representable value (the conventional
// "half up" used for customer-facing prices).
func RoundHalfUp(m Money, places int32) Money {
	half := decimal.New(5, -places-1)
	if m.IsNegative() {
		return m.Sub(half).RoundDown(places)
	}
	return m.Add(half).RoundDown(places)
}

// minorUnits maps ISO currency codes with a non-standard number of minor
// units. Anything absent defaults to 2.
var minorUnits = map[string]int32{
	"BIF": 0,
	"CLP": 0,
	"DJF": 0,
	"GNF": 0,
	"ISK": 0,
	"JPY": 0,
	"KMF": 0,
	"KRW": 0,
	"PYG": 0,
	"RWF": 0,
	"UGX": 0,
	"VND": 0,
	"VUV": 0,
	"XAF": 0,
	"XOF": 0,
	"XPF": 0,
	"BHD": 3,
	"IQD": 3,
	"JOD": 3,
	"KWD": 3,
	"LYD": 3,
	"OMR": 3,
	"TND": 3,
}

// MinorUnits returns the number of decimal places carried by the given ISO
// 4217 currency code.
func MinorUnits(currency string) int32 {
	if units, ok := minorUnits[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return units
	}
	return 2
}

// RoundCurrency rounds m to the minor-unit precision of the given currency
// using half-up rounding.
func RoundCurrency(m Money, currency string) Money {
	return RoundHalfUp(m, MinorUnits(currency))
}
