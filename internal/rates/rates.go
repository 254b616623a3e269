// Package rates stores and serves currency exchange rates.
//
// Rates are kept per (from, to, date, type). Official USD rates come from
// openexchangerates.org and informal ("blue") ARS rates from ambito.com.
// Missing pairs are answered through the inverse of a stored pair or by
// crossing through USD.
package rates

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeOfficial = "official"
	TypeBlue     = "blue"
	TypeMEP      = "mep"
	TypeCCL      = "ccl"
	TypeCrypto   = "crypto"
)

// DateLayout is how rate dates are written.
const DateLayout = "2006-01-02"

// typePriority orders rate types when the caller does not choose one.
var typePriority = []string{TypeOfficial, TypeBlue, TypeMEP, TypeCCL}

var (
	ErrNoRate      = errors.New("no exchange rate available")
	ErrInvalidDate = errors.New("invalid date")
)

// Rate is one stored quote: one unit of From buys Value units of To.
type Rate struct {
	From      string
	To        string
	Value     decimal.Decimal
	Type      string
	Date      string
	Source    string
	FetchedAt time.Time
}

// Table maps a target currency to its rate per rate type.
type Table map[string]map[string]decimal.Decimal

func (t Table) set(currency, rateType string, v decimal.Decimal) {
	if t[currency] == nil {
		t[currency] = make(map[string]decimal.Decimal)
	}
	t[currency][rateType] = v
}

// Preferred picks the rate for currency following the default type priority.
func (t Table) Preferred(currency string) (decimal.Decimal, string, bool) {
	byType := t[currency]
	if len(byType) == 0 {
		return decimal.Decimal{}, "", false
	}
	for _, rt := range typePriority {
		if v, ok := byType[rt]; ok {
			return v, rt, true
		}
	}
	// Unknown types: pick the alphabetically first for a stable answer.
	var best string
	for rt := range byType {
		if best == "" || rt < best {
			best = rt
		}
	}
	return byType[best], best, true
}

// ProviderError reports a failed call to an upstream rate provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// FormatDate renders t as a rate date in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate validates a YYYY-MM-DD rate date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: use YYYY-MM-DD", ErrInvalidDate, s)
	}
	return t, nil
}
