// Package storage persists transactions in an embedded SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/core"
	"dosmangos/internal/log"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

var (
	ErrNotFound  = errors.New("transaction not found")
	ErrDuplicate = errors.New("transaction already exists")
)

// Repository is the transaction store. The connection is opened on first use.
type Repository struct {
	path           string
	dsn            string
	logger         *log.Logger
	legacyCurrency string

	once    sync.Once
	db      *sql.DB
	openErr error

	migrateMu sync.Mutex
}

type Option func(*Repository)

func WithLogger(l *log.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l.WithComponent(log.ComponentStorage)
		}
	}
}

// WithLegacyCurrency sets the currency assigned to rows imported from the
// old single-currency table. Defaults to USD.
func WithLegacyCurrency(code string) Option {
	return func(r *Repository) { r.legacyCurrency = code }
}

// Open returns a repository for the database at path without touching disk.
func Open(path string, opts ...Option) *Repository {
	r := &Repository{
		path:           path,
		dsn:            "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		logger:         log.Discard(),
		legacyCurrency: "USD",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) conn() (*sql.DB, error) {
	r.once.Do(func() {
		if dir := filepath.Dir(r.path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				r.openErr = fmt.Errorf("create db directory: %w", err)
				return
			}
		}
		db, err := sql.Open(driverName, r.dsn)
		if err != nil {
			r.openErr = fmt.Errorf("open sqlite database: %w", err)
			return
		}
		// One writer at a time; SQLite serializes writes anyway.
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			db.Close()
			r.openErr = fmt.Errorf("ping database: %w", err)
			return
		}
		r.db = db
	})
	return r.db, r.openErr
}

// DB exposes the shared connection to stores living in the same database.
func (r *Repository) DB() (*sql.DB, error) {
	return r.conn()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close releases the connection if it was opened.
func (r *Repository) Close() error {
	var db *sql.DB
	r.once.Do(func() { r.openErr = errors.New("repository closed") })
	db = r.db
	if db != nil {
		return db.Close()
	}
	return nil
}

// Save inserts a new transaction. A second save of the same id fails with
// ErrDuplicate; use Update to change a stored transaction.
func (r *Repository) Save(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	db, err := r.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	lat, lon, city, country := locationColumns(t.Location)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
			(id, createdAt, description, value, currency, category, latitude, longitude, city, country_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID.String(), t.CreatedAt.Unix(), t.Description, float64(t.Value.Minor), t.Value.Currency,
		nullString(t.Category), lat, lon, city, country)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	} else if n == 0 {
		return ErrDuplicate
	}
	if err := insertTags(ctx, tx, t.ID, t.Tags); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.DebugContext(ctx, "Transaction saved to SQLite",
		log.FieldTxID, t.ID.String(),
		log.FieldAmountMinor, t.Value.Minor,
		log.FieldCurrency, t.Value.Currency)
	return nil
}

// Update replaces every field of a stored transaction.
func (r *Repository) Update(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	db, err := r.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	lat, lon, city, country := locationColumns(t.Location)
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions SET
			createdAt = ?, description = ?, value = ?, currency = ?, category = ?,
			latitude = ?, longitude = ?, city = ?, country_code = ?
		WHERE id = ?`,
		t.CreatedAt.Unix(), t.Description, float64(t.Value.Minor), t.Value.Currency, nullString(t.Category),
		lat, lon, city, country, t.ID.String())
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, t.ID.String()); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if err := insertTags(ctx, tx, t.ID, t.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	db, err := r.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const selectColumns = `id, createdAt, description, value, currency, category, latitude, longitude, city, country_code`

// Get loads one transaction by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	db, err := r.conn()
	if err != nil {
		return core.Transaction{}, err
	}

	raw := make([]any, 10)
	ptrs := scanTargets(raw)
	err = db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transactions WHERE id = ?`, id.String()).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	t, rowErr := decodeRow(raw)
	if rowErr != nil {
		return core.Transaction{}, &DecodeError{Rows: []RowError{*rowErr}}
	}

	tags, err := loadTags(ctx, db, `WHERE transaction_id = ?`, id.String())
	if err != nil {
		return core.Transaction{}, err
	}
	t.Tags = tags[t.ID.String()]
	return t, nil
}

// Fetch returns the transactions of the UTC calendar month containing date,
// newest first. Rows that cannot be decoded are left out of the result and
// reported through a *DecodeError alongside the rows that could.
func (r *Repository) Fetch(ctx context.Context, date time.Time) ([]core.Transaction, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}
	start, end := core.MonthBounds(date)

	rows, err := db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM transactions
		WHERE createdAt >= ? AND createdAt < ?
		ORDER BY createdAt DESC, id ASC`, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}

	var (
		txs     []core.Transaction
		decode  DecodeError
		raw     = make([]any, 10)
		targets = scanTargets(raw)
	)
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t, rowErr := decodeRow(raw)
		if rowErr != nil {
			decode.Rows = append(decode.Rows, *rowErr)
			continue
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	rows.Close()

	tags, err := loadTags(ctx, db, `
		WHERE transaction_id IN (SELECT id FROM transactions WHERE createdAt >= ? AND createdAt < ?)`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	for i := range txs {
		txs[i].Tags = tags[txs[i].ID.String()]
	}

	if len(decode.Rows) > 0 {
		r.logger.WarnContext(ctx, "Skipped undecodable transactions",
			"rows", len(decode.Rows), log.FieldError, decode.Error())
		return txs, &decode
	}
	return txs, nil
}

func loadTags(ctx context.Context, db *sql.DB, where string, args ...any) (map[string][]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT transaction_id, tag FROM transaction_tags `+where+` ORDER BY transaction_id, tag`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string][]string)
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags[id] = append(tags[id], tag)
	}
	return tags, rows.Err()
}

func insertTags(ctx context.Context, tx *sql.Tx, id uuid.UUID, tags []string) error {
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO transaction_tags (transaction_id, tag) VALUES (?, ?)`, id.String(), tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

func locationColumns(loc *core.Location) (lat, lon, city, country any) {
	if loc == nil {
		return nil, nil, nil, nil
	}
	lat, lon = loc.Latitude, loc.Longitude
	if loc.City != nil {
		city = *loc.City
	}
	if loc.CountryCode != nil {
		country = *loc.CountryCode
	}
	return lat, lon, city, country
}

func nullString(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}
