package rates

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"dosmangos/internal/core"
	"dosmangos/internal/currency"
	"dosmangos/internal/log"
)

// Fetcher downloads rates for a date and stores them.
type Fetcher interface {
	FetchAndStore(ctx context.Context, date string) (int, error)
}

// Reader is the read side of the rate store.
type Reader interface {
	AllRatesForBase(ctx context.Context, base, date, rateType string) (Table, error)
	LatestRateDate(ctx context.Context) (string, bool, error)
}

// Service answers rate queries from the store, filling gaps from the
// providers on demand.
type Service struct {
	reader   Reader
	official Fetcher
	blue     Fetcher
	logger   *log.Logger

	group singleflight.Group
}

// NewService wires a rate service. Either fetcher may be nil, in which case
// only stored rates are served for that provider.
func NewService(reader Reader, official, blue Fetcher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		reader:   reader,
		official: official,
		blue:     blue,
		logger:   logger.WithComponent(log.ComponentRates),
	}
}

// GetRates returns base->symbol rates on date, grouped by rate type. With no
// symbols every known currency is returned. Symbols with no stored pair are
// crossed through USD when both legs exist.
func (s *Service) GetRates(ctx context.Context, base string, symbols []string, date, rateType string) (Table, error) {
	base = currency.Normalize(base)
	if !currency.IsValidCode(base) {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidCurrency, base)
	}
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	symbols = normalizeSymbols(symbols)

	if base == "USD" {
		official, err := s.reader.AllRatesForBase(ctx, "USD", date, TypeOfficial)
		if err != nil {
			return nil, err
		}
		if len(official) == 0 {
			s.fetch(ctx, providerOXR, s.official, date)
		}
	}

	if wantsBlueARS(base, symbols) {
		check, want := "USD", "ARS"
		if base == "ARS" {
			check, want = "ARS", "USD"
		}
		blue, err := s.reader.AllRatesForBase(ctx, check, date, TypeBlue)
		if err != nil {
			return nil, err
		}
		if _, ok := blue[want]; !ok {
			s.fetch(ctx, providerAmbito, s.blue, date)
		}
	}

	all, err := s.reader.AllRatesForBase(ctx, base, date, rateType)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return all, nil
	}

	out := make(Table, len(symbols))
	var missing []string
	for _, sym := range symbols {
		if byType, ok := all[sym]; ok {
			out[sym] = byType
		} else {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		crossed, err := s.viaUSD(ctx, base, missing, date, rateType, all)
		if err != nil {
			return nil, err
		}
		for sym, byType := range crossed {
			out[sym] = byType
		}
	}
	return out, nil
}

// wantsBlueARS reports whether the answer could include a blue ARS rate.
func wantsBlueARS(base string, symbols []string) bool {
	if base == "ARS" {
		return true
	}
	if base == "USD" {
		return len(symbols) == 0 || slices.Contains(symbols, "ARS")
	}
	return slices.Contains(symbols, "ARS")
}

// viaUSD computes base->target as (base->USD) * (USD->target) for each rate
// type present on both legs.
func (s *Service) viaUSD(ctx context.Context, base string, targets []string, date, rateType string, baseRates Table) (Table, error) {
	toUSD, ok := baseRates["USD"]
	if !ok {
		return nil, nil
	}
	usd, err := s.reader.AllRatesForBase(ctx, "USD", date, rateType)
	if err != nil {
		return nil, err
	}
	if len(usd) == 0 {
		s.fetch(ctx, providerOXR, s.official, date)
		if usd, err = s.reader.AllRatesForBase(ctx, "USD", date, rateType); err != nil {
			return nil, err
		}
	}

	out := make(Table)
	for _, target := range targets {
		fromUSD, ok := usd[target]
		if !ok {
			continue
		}
		for rt, a := range toUSD {
			if b, ok := fromUSD[rt]; ok {
				out.set(target, rt, a.Mul(b))
			}
		}
	}
	s.logger.DebugContext(ctx, "interpolated via USD", "base", base, "requested", len(targets), "found", len(out))
	return out, nil
}

// fetch runs one provider download per (provider, date) at a time. Failures
// are logged and the caller carries on with whatever is stored.
func (s *Service) fetch(ctx context.Context, provider string, f Fetcher, date string) {
	if f == nil {
		return
	}
	key := provider + "|" + date
	v, err, shared := s.group.Do(key, func() (any, error) {
		return f.FetchAndStore(context.WithoutCancel(ctx), date)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "rate fetch failed",
			log.FieldProvider, provider, log.FieldRateDate, date, log.FieldError, err.Error())
		return
	}
	s.logger.InfoContext(ctx, "rates fetched",
		log.FieldProvider, provider, log.FieldRateDate, date, "count", v, "shared", shared)
}

// Convert expresses m in currency to using the preferred rate on date.
func (s *Service) Convert(ctx context.Context, m core.Money, to, date string) (core.Money, error) {
	to = currency.Normalize(to)
	if m.Currency == to {
		return m, nil
	}
	table, err := s.GetRates(ctx, m.Currency, []string{to}, date, "")
	if err != nil {
		return core.Money{}, err
	}
	rate, _, ok := table.Preferred(to)
	if !ok {
		return core.Money{}, fmt.Errorf("%w: %s->%s on %s", ErrNoRate, m.Currency, to, date)
	}
	return Apply(m, to, rate), nil
}

// Apply multiplies m by rate and rounds to the minor unit of to.
func Apply(m core.Money, to string, rate decimal.Decimal) core.Money {
	major := currency.ToMajor(m.Minor, m.Currency).Mul(rate)
	return core.Money{Minor: currency.ToMinor(major, to), Currency: to}
}

// LatestDate is the newest date with stored rates.
func (s *Service) LatestDate(ctx context.Context) (string, bool, error) {
	return s.reader.LatestRateDate(ctx)
}

// ResolveDate returns date when set. Otherwise it is the newest stored date,
// downloading the latest official rates first when nothing is stored.
func (s *Service) ResolveDate(ctx context.Context, date string) (string, error) {
	if date != "" {
		if _, err := ParseDate(date); err != nil {
			return "", err
		}
		return date, nil
	}
	latest, ok, err := s.reader.LatestRateDate(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		return latest, nil
	}
	s.fetch(ctx, providerOXR, s.official, "")
	latest, ok, err = s.reader.LatestRateDate(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no rates stored", ErrNoRate)
	}
	return latest, nil
}

func normalizeSymbols(symbols []string) []string {
	var out []string
	for _, sym := range symbols {
		for _, part := range strings.Split(sym, ",") {
			part = currency.Normalize(part)
			if part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}
