// Package core holds the ledger's domain types.
//
// Amounts are always carried as integer minor units together with their ISO
// 4217 code; precision comes from the currency registry.
package core

import (
	"strings"

	"github.com/shopspring/decimal"

	"dosmangos/internal/currency"
)

// MaxMinor bounds the magnitude of any amount. Larger values do not survive
// the round trip through SQLite REAL columns.
const MaxMinor int64 = 1 << 53

var maxMinorDecimal = decimal.NewFromInt(MaxMinor)

// Money is a signed amount in minor units of Currency.
type Money struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

// NewMoney returns m with its currency code normalized.
func NewMoney(minor int64, code string) (Money, error) {
	code, err := normalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{Minor: minor, Currency: code}, nil
}

func (m Money) Validate() error {
	if !currency.IsValidCode(m.Currency) {
		return ErrInvalidCurrency
	}
	if m.Minor == 0 || m.Minor > MaxMinor || m.Minor < -MaxMinor {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }

func (m Money) Neg() Money {
	return Money{Minor: -m.Minor, Currency: m.Currency}
}

// Add sums two amounts. Both must share a currency; the caller checks.
func (m Money) Add(o Money) Money {
	return Money{Minor: m.Minor + o.Minor, Currency: m.Currency}
}

// Major returns the amount in major units.
func (m Money) Major() decimal.Decimal {
	return currency.ToMajor(m.Minor, m.Currency)
}

func (m Money) String() string {
	return currency.Format(m.Minor, m.Currency)
}

// ParseAmount converts a decimal string to minor units of code.
//
// Both dot (12.34) and comma (12,34) separators are accepted, as is a leading
// sign. Digits beyond the currency precision are rounded half-up. Zero and
// magnitudes above MaxMinor minor units are rejected.
//
// Examples for USD:
//
//	ParseAmount("12.34", "USD")  -> 1234
//	ParseAmount("-12,34", "USD") -> -1234
//	ParseAmount("1.005", "USD")  -> 101
func ParseAmount(s, code string) (Money, error) {
	code, err := normalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, ",", ".")
	if !isPlainDecimal(s) {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	scaled := d.Shift(int32(currency.Lookup(code).Fraction)).Round(0)
	if scaled.Abs().GreaterThan(maxMinorDecimal) {
		return Money{}, ErrInvalidAmount
	}
	minor := currency.ToMinor(d, code)
	if minor == 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Minor: minor, Currency: code}, nil
}

// isPlainDecimal accepts an optional minus, digits, and at most one dot.
func isPlainDecimal(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" || s == "." {
		return false
	}
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		case r < '0' || r > '9':
			return false
		}
	}
	return true
}
