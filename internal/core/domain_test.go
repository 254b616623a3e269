package core

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validTransaction() Transaction {
	return Transaction{
		ID:          uuid.New(),
		CreatedAt:   time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Description: "Coffee",
		Value:       Money{Minor: -350, Currency: "USD"},
	}
}

func TestTransactionValidate(t *testing.T) {
	if err := validTransaction().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{"missing id", func(tx *Transaction) { tx.ID = uuid.Nil }, ErrMissingID},
		{"zero time", func(tx *Transaction) { tx.CreatedAt = time.Time{} }, ErrMissingTimestamp},
		{"blank description", func(tx *Transaction) { tx.Description = "   " }, ErrEmptyDescription},
		{"long description", func(tx *Transaction) { tx.Description = strings.Repeat("a", 201) }, ErrDescriptionTooLong},
		{"zero value", func(tx *Transaction) { tx.Value.Minor = 0 }, ErrInvalidAmount},
		{"bad currency", func(tx *Transaction) { tx.Value.Currency = "US" }, ErrInvalidCurrency},
		{"blank tag", func(tx *Transaction) { tx.Tags = []string{"food", " "} }, ErrInvalidTag},
		{"bad coordinate", func(tx *Transaction) {
			tx.Location = &Location{Coordinate: Coordinate{Latitude: 91}}
		}, ErrInvalidCoordinate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := validTransaction()
			tc.mutate(&tx)
			err := tx.Validate()
			if err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !IsValidationError(err) {
				t.Fatalf("expected %v to be a validation error", err)
			}
		})
	}
}

func TestMonthBounds(t *testing.T) {
	start, end := MonthBounds(time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC))
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", start)
	}
	if !end.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %v", end)
	}
}

func TestNewLocationEmptyFields(t *testing.T) {
	loc := NewLocation(Coordinate{Latitude: 1, Longitude: 2}, " ", "")
	if loc.City != nil || loc.CountryCode != nil {
		t.Fatalf("expected nil city and country, got %+v", loc)
	}
	loc = NewLocation(Coordinate{}, "Montevideo", "uy")
	if loc.City == nil || *loc.City != "Montevideo" || loc.CountryCode == nil || *loc.CountryCode != "UY" {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestSummarize(t *testing.T) {
	march := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Value: Money{Minor: 100000, Currency: "USD"}},
		{CreatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), Value: Money{Minor: -2500, Currency: "USD"}},
		{CreatedAt: time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC), Value: Money{Minor: -500, Currency: "USD"}},
		{CreatedAt: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Value: Money{Minor: -999, Currency: "EUR"}},
		{CreatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), Value: Money{Minor: -7, Currency: "USD"}},
	}
	s := Summarize(march, "usd", txs)
	if s.Year != 2025 || s.Month != 3 || s.Currency != "USD" {
		t.Fatalf("unexpected period %+v", s)
	}
	if s.Income.Minor != 100000 || s.Expenses.Minor != 3000 || s.NetWorth.Minor != 97000 {
		t.Fatalf("unexpected totals income=%d expenses=%d net=%d", s.Income.Minor, s.Expenses.Minor, s.NetWorth.Minor)
	}
	if s.Count != 3 {
		t.Fatalf("count = %d, want 3", s.Count)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "EUR", nil)
	if s.NetWorth.Currency != "EUR" || s.NetWorth.Minor != 0 || s.Count != 0 {
		t.Fatalf("unexpected empty summary %+v", s)
	}
}
