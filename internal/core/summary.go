package core

import "time"

// MonthlySummary aggregates the transactions of one month in one currency.
// Expenses is a positive magnitude.
type MonthlySummary struct {
	Year     int
	Month    int // 1-12
	Currency string
	Income   Money
	Expenses Money
	NetWorth Money
	Count    int
}

// Summarize totals the transactions in code for the month of date. Other
// currencies and other months are ignored.
func Summarize(date time.Time, code string, txs []Transaction) MonthlySummary {
	code, _ = normalizeCurrency(code)
	d := date.UTC()
	s := MonthlySummary{
		Year:     d.Year(),
		Month:    int(d.Month()),
		Currency: code,
		Income:   Money{Currency: code},
		Expenses: Money{Currency: code},
		NetWorth: Money{Currency: code},
	}
	for _, tx := range txs {
		if tx.Value.Currency != code || !tx.InMonth(date) {
			continue
		}
		s.AddValue(tx.Value)
	}
	return s
}

// AddValue folds one amount into the summary. The amount must already be in
// the summary currency.
func (s *MonthlySummary) AddValue(v Money) {
	if v.Minor > 0 {
		s.Income.Minor += v.Minor
	} else {
		s.Expenses.Minor -= v.Minor
	}
	s.Count++
	s.NetWorth = Money{Minor: s.Income.Minor - s.Expenses.Minor, Currency: s.Currency}
}
