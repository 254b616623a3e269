package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/core"
	"dosmangos/internal/currency"
	"dosmangos/internal/log"
	"dosmangos/internal/rates"
	"dosmangos/internal/storage"
)

// Converter expresses money in another currency at a date's rate.
type Converter interface {
	Convert(ctx context.Context, m core.Money, to, date string) (core.Money, error)
}

// SkippedTransaction is left out of a summary because it could not be
// converted.
type SkippedTransaction struct {
	ID       uuid.UUID `json:"id"`
	Currency string    `json:"currency"`
	Reason   string    `json:"reason"`
}

// MonthReport is a monthly summary in one currency across all currencies.
type MonthReport struct {
	core.MonthlySummary
	Converted int
	Skipped   []SkippedTransaction
	Warnings  []string
}

type SummaryService struct {
	fetcher   MonthFetcher
	converter Converter
	logger    *log.Logger
}

// NewSummaryService builds the service. converter may be nil, in which case
// foreign-currency transactions are skipped.
func NewSummaryService(fetcher MonthFetcher, converter Converter, logger *log.Logger) *SummaryService {
	if logger == nil {
		logger = log.Discard()
	}
	return &SummaryService{fetcher: fetcher, converter: converter, logger: logger.WithComponent(log.ComponentRates)}
}

// Month totals the month containing date in code. Each foreign transaction
// is converted at the rate of its own day.
func (s *SummaryService) Month(ctx context.Context, date time.Time, code string) (MonthReport, error) {
	code = currency.Normalize(code)
	if !currency.IsValidCode(code) {
		return MonthReport{}, fmt.Errorf("%w: %q", core.ErrInvalidCurrency, code)
	}

	txs, err := s.fetcher.Fetch(ctx, date)
	var report MonthReport
	var decodeErr *storage.DecodeError
	if errors.As(err, &decodeErr) {
		for _, re := range decodeErr.Rows {
			report.Warnings = append(report.Warnings, re.Error())
		}
	} else if err != nil {
		return MonthReport{}, fmt.Errorf("load month: %w", err)
	}

	report.MonthlySummary = core.Summarize(date, code, nil)
	for _, t := range txs {
		if !t.InMonth(date) {
			continue
		}
		if t.Value.Currency == code {
			report.AddValue(t.Value)
			continue
		}
		if s.converter == nil {
			report.Skipped = append(report.Skipped, SkippedTransaction{ID: t.ID, Currency: t.Value.Currency, Reason: "no rate service"})
			continue
		}
		converted, err := s.converter.Convert(ctx, t.Value, code, rates.FormatDate(t.CreatedAt))
		if err != nil {
			s.logger.WarnContext(ctx, "transaction left out of summary",
				log.FieldTxID, t.ID.String(), log.FieldCurrency, t.Value.Currency, log.FieldError, err.Error())
			report.Skipped = append(report.Skipped, SkippedTransaction{ID: t.ID, Currency: t.Value.Currency, Reason: err.Error()})
			continue
		}
		report.AddValue(converted)
		report.Converted++
	}
	return report, nil
}
