// Package datastore implements the ledger contract on SQLite.
//
// Every sheet shares one table of flat rows. Cells are stored as a CBOR
// array so rows of any width round-trip without a per-sheet schema.
// UpdateField and DeleteMatching rewrite the matching rows inside a
// single transaction per call.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/WoushouW/woushBOT/pkg/ledger"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// DB is the subset of *sql.DB and *sql.Tx the ledger queries need.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger is a SQLite-backed ledger.Ledger.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

type storedRow struct {
	id  int64
	row ledger.Row
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &Ledger{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Ledger) Close() error {
	return s.db.Close()
}

func (s *Ledger) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_rows (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sheet       TEXT    NOT NULL CHECK(length(sheet) > 0),
		cells       BLOB    NOT NULL,
		appended_at TEXT    NOT NULL DEFAULT (datetime('now')),
		updated_at  TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_rows_sheet ON ledger_rows (sheet, id);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Ledger) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Ledger) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Ledger) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *Ledger) execMigration(ctx context.Context, stmt string) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Ledger) SchemaVersion(ctx context.Context) (int, error) {
	return s.getSchemaVersion(ctx)
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

// Append adds row to the end of sheet.
func (s *Ledger) Append(ctx context.Context, sheet ledger.Sheet, row ledger.Row) error {
	cells, err := cbor.Marshal([]string(row))
	if err != nil {
		return fmt.Errorf("datastore: append: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO ledger_rows (sheet, cells, appended_at) VALUES (?, ?, ?)",
		string(sheet), cells, formatDBTime(s.now()))
	if err != nil {
		return fmt.Errorf("datastore: append: %w", err)
	}
	return nil
}

// ScanAll returns every row of sheet in append order.
func (s *Ledger) ScanAll(ctx context.Context, sheet ledger.Sheet) ([]ledger.Row, error) {
	stored, err := scanSheet(ctx, s.db, sheet)
	if err != nil {
		return nil, fmt.Errorf("datastore: scan: %w", err)
	}
	out := make([]ledger.Row, len(stored))
	for i, r := range stored {
		out[i] = r.row
	}
	return out, nil
}

// UpdateField sets one cell on every matching row in one transaction.
func (s *Ledger) UpdateField(ctx context.Context, sheet ledger.Sheet, match ledger.Predicate, field int, value string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx DB) error {
		stored, err := scanSheet(ctx, tx, sheet)
		if err != nil {
			return err
		}
		updatedAt := formatDBTime(s.now())
		for _, r := range stored {
			if !match(r.row) {
				continue
			}
			cells, err := cbor.Marshal([]string(ledger.SetCell(r.row, field, value)))
			if err != nil {
				return fmt.Errorf("encode row %d: %w", r.id, err)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE ledger_rows SET cells = ?, updated_at = ? WHERE id = ?",
				cells, updatedAt, r.id); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("datastore: update field: %w", err)
	}
	return n, nil
}

// DeleteMatching removes every matching row in one transaction.
func (s *Ledger) DeleteMatching(ctx context.Context, sheet ledger.Sheet, match ledger.Predicate) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx DB) error {
		stored, err := scanSheet(ctx, tx, sheet)
		if err != nil {
			return err
		}
		for _, r := range stored {
			if !match(r.row) {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM ledger_rows WHERE id = ?", r.id); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("datastore: delete matching: %w", err)
	}
	return n, nil
}

func (s *Ledger) withTx(ctx context.Context, fn func(tx DB) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// scanSheet reads the whole sheet before returning so callers can issue
// writes on the same transaction.
func scanSheet(ctx context.Context, db DB, sheet ledger.Sheet) ([]storedRow, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, cells FROM ledger_rows WHERE sheet = ? ORDER BY id", string(sheet))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []storedRow
	for rows.Next() {
		var r storedRow
		var cells []byte
		if err := rows.Scan(&r.id, &cells); err != nil {
			return nil, err
		}
		var decoded []string
		if err := cbor.Unmarshal(cells, &decoded); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", r.id, err)
		}
		r.row = ledger.Row(decoded)
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ ledger.Ledger = (*Ledger)(nil)
