package rates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DBProvider hands out the shared database connection.
type DBProvider interface {
	DB() (*sql.DB, error)
}

// Repository reads and writes the exchange_rates table.
type Repository struct {
	db    DBProvider
	clock clock.Clock
}

func NewRepository(db DBProvider, clk clock.Clock) *Repository {
	if clk == nil {
		clk = clock.New()
	}
	return &Repository{db: db, clock: clk}
}

// InsertRate stores r, replacing any rate with the same pair, date and type.
func (r *Repository) InsertRate(ctx context.Context, rate Rate) error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	if rate.Type == "" {
		rate.Type = TypeOfficial
	}
	if rate.FetchedAt.IsZero() {
		rate.FetchedAt = r.clock.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO exchange_rates
			(id, from_currency, to_currency, rate, rate_type, date, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rate.From, rate.To, rate.Value.InexactFloat64(), rate.Type, rate.Date,
		rate.Source, rate.FetchedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert rate %s->%s %s: %w", rate.From, rate.To, rate.Date, err)
	}
	return nil
}

// InsertRates stores several rates in one transaction.
func (r *Repository) InsertRates(ctx context.Context, rates []Rate) error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO exchange_rates
			(id, from_currency, to_currency, rate, rate_type, date, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := r.clock.Now()
	for _, rate := range rates {
		if rate.Type == "" {
			rate.Type = TypeOfficial
		}
		if rate.FetchedAt.IsZero() {
			rate.FetchedAt = now
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), rate.From, rate.To, rate.Value.InexactFloat64(),
			rate.Type, rate.Date, rate.Source, rate.FetchedAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("insert rate %s->%s %s: %w", rate.From, rate.To, rate.Date, err)
		}
	}
	return tx.Commit()
}

// GetRate returns the stored direct rate for a pair. With an empty rateType
// the highest-priority type present wins.
func (r *Repository) GetRate(ctx context.Context, from, to, date, rateType string) (decimal.Decimal, bool, error) {
	db, err := r.db.DB()
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	var row *sql.Row
	if rateType != "" {
		row = db.QueryRowContext(ctx, `
			SELECT rate FROM exchange_rates
			WHERE from_currency = ? AND to_currency = ? AND date = ? AND rate_type = ?
			LIMIT 1`, from, to, date, rateType)
	} else {
		row = db.QueryRowContext(ctx, `
			SELECT rate FROM exchange_rates
			WHERE from_currency = ? AND to_currency = ? AND date = ?
			ORDER BY
				CASE rate_type
					WHEN 'official' THEN 1
					WHEN 'blue' THEN 2
					WHEN 'mep' THEN 3
					WHEN 'ccl' THEN 4
					ELSE 5
				END, rate_type
			LIMIT 1`, from, to, date)
	}

	var v float64
	if err := row.Scan(&v); errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	} else if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("get rate: %w", err)
	}
	return decimal.NewFromFloat(v), true, nil
}

// AllRatesForBase returns every rate from base on date, including computed
// inverses, grouped by target currency and rate type.
func (r *Repository) AllRatesForBase(ctx context.Context, base, date, rateType string) (Table, error) {
	db, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT to_currency, rate_type, rate FROM exchange_rates_bidirectional
		WHERE from_currency = ? AND date = ?`
	args := []any{base, date}
	if rateType != "" {
		query += ` AND rate_type = ?`
		args = append(args, rateType)
	}
	query += ` ORDER BY to_currency, rate_type`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rates for %s: %w", base, err)
	}
	defer rows.Close()

	table := make(Table)
	for rows.Next() {
		var (
			to, rt string
			v      float64
		)
		if err := rows.Scan(&to, &rt, &v); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		table.set(to, rt, decimal.NewFromFloat(v))
	}
	return table, rows.Err()
}

// LatestRateDate returns the most recent date with any stored rate.
func (r *Repository) LatestRateDate(ctx context.Context) (string, bool, error) {
	db, err := r.db.DB()
	if err != nil {
		return "", false, err
	}
	var date string
	err = db.QueryRowContext(ctx, `SELECT date FROM exchange_rates ORDER BY date DESC LIMIT 1`).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest rate date: %w", err)
	}
	return date, true, nil
}
