// Package currency resolves ISO 4217 codes to formatting and precision data.
//
// The table comes from go-money's generated currency list. Codes missing from
// that list resolve to a generic entry with two minor units and no countries,
// so every well-formed code has an answer.
package currency

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FallbackFraction is the number of minor units assumed for unknown codes.
const FallbackFraction = 2

// Info describes a currency as far as amounts and display are concerned.
type Info struct {
	Code      string
	Fraction  int
	Grapheme  string
	Countries []string
	// Known is false when the code fell back to the generic entry.
	Known bool
}

// Normalize trims and upper-cases a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode reports whether code has the shape of an ISO 4217 code.
// It does not require the code to be present in the registry.
func IsValidCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Lookup returns the registry entry for code, or the generic fallback.
func Lookup(code string) Info {
	code = Normalize(code)
	c := money.GetCurrency(code)
	if c == nil {
		return Info{Code: code, Fraction: FallbackFraction, Countries: []string{}}
	}
	countries := countriesByCode[code]
	if countries == nil {
		countries = []string{}
	}
	return Info{
		Code:      code,
		Fraction:  c.Fraction,
		Grapheme:  c.Grapheme,
		Countries: countries,
		Known:     true,
	}
}

// Format renders an amount expressed in minor units.
func Format(minor int64, code string) string {
	code = Normalize(code)
	if c := money.GetCurrency(code); c != nil {
		return c.Formatter().Format(minor)
	}
	major := decimal.New(minor, -FallbackFraction)
	return major.StringFixed(FallbackFraction) + " " + code
}

// ToMajor converts minor units to a decimal amount in major units.
func ToMajor(minor int64, code string) decimal.Decimal {
	return decimal.New(minor, -int32(Lookup(code).Fraction))
}

// ToMinor converts a major-unit decimal to minor units, rounding half away
// from zero on the first digit past the currency precision.
func ToMinor(major decimal.Decimal, code string) int64 {
	return major.Shift(int32(Lookup(code).Fraction)).Round(0).IntPart()
}

// countriesByCode lists ISO 3166 alpha-2 codes using each currency. Only the
// currencies the app ships presets for are listed.
var countriesByCode = map[string][]string{
	"ARS": {"AR"},
	"AUD": {"AU", "CX", "CC", "HM", "KI", "NR", "NF", "TV"},
	"BRL": {"BR"},
	"CAD": {"CA"},
	"CHF": {"CH", "LI"},
	"CLP": {"CL"},
	"COP": {"CO"},
	"EUR": {"AD", "AT", "BE", "CY", "DE", "EE", "ES", "FI", "FR", "GR", "HR", "IE", "IT", "LT", "LU", "LV", "MC", "ME", "MT", "NL", "PT", "SI", "SK", "SM", "VA"},
	"GBP": {"GB", "GG", "IM", "JE"},
	"JPY": {"JP"},
	"MXN": {"MX"},
	"PEN": {"PE"},
	"PYG": {"PY"},
	"USD": {"US", "AS", "EC", "FM", "GU", "MH", "MP", "PR", "PW", "SV", "TC", "TL", "VG", "VI"},
	"UYU": {"UY"},
}
