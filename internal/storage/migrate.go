package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// legacyColumns are the columns missing from the early four-column
// transactions table.
var legacyColumns = []struct{ name, ddl string }{
	{"currency", "TEXT NOT NULL DEFAULT 'USD'"},
	{"category", "TEXT"},
	{"latitude", "REAL"},
	{"longitude", "REAL"},
	{"city", "TEXT"},
	{"country_code", "TEXT"},
}

// Migrate brings the schema to the latest version. It is safe to call more
// than once and concurrently with other operations; calls are serialized.
func (r *Repository) Migrate(ctx context.Context) error {
	db, err := r.conn()
	if err != nil {
		return err
	}

	r.migrateMu.Lock()
	defer r.migrateMu.Unlock()

	if err := widenLegacyTable(ctx, db); err != nil {
		return fmt.Errorf("upgrade legacy transactions table: %w", err)
	}
	if err := runMigrations(r.dsn); err != nil {
		return err
	}
	imported, err := importSingularTable(ctx, db, r.legacyCurrency)
	if err != nil {
		return fmt.Errorf("import legacy transaction table: %w", err)
	}
	if imported > 0 {
		r.logger.InfoContext(ctx, "Imported legacy transactions", "rows", imported)
	}
	return nil
}

// runMigrations uses its own connection: the migrate driver closes the
// database it wraps.
func runMigrations(dsn string) error {
	migrateDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return n > 0, err
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// widenLegacyTable adds the optional columns to a pre-existing four-column
// transactions table so the versioned migrations apply on top of it.
func widenLegacyTable(ctx context.Context, db *sql.DB) error {
	exists, err := tableExists(ctx, db, "transactions")
	if err != nil || !exists {
		return err
	}
	cols, err := tableColumns(ctx, db, "transactions")
	if err != nil {
		return err
	}
	for _, c := range legacyColumns {
		if cols[c.name] {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE transactions ADD COLUMN %s %s`, c.name, c.ddl)); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
	}
	return nil
}

// importSingularTable copies rows from the old "transaction" table, whose
// createdAt is a floating-point epoch, then drops it. Rows whose id already
// exists are kept as they are.
func importSingularTable(ctx context.Context, db *sql.DB, currencyCode string) (int64, error) {
	exists, err := tableExists(ctx, db, "transaction")
	if err != nil || !exists {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO transactions (id, createdAt, description, value, currency)
		SELECT id, CAST(createdAt AS INTEGER), description, value, ?
		FROM "transaction"`, currencyCode)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE "transaction"`); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
