package datalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS register_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	batch     TEXT    NOT NULL,
	servo     INTEGER NOT NULL,
	port      TEXT    NOT NULL,
	register  TEXT    NOT NULL,
	value     INTEGER NOT NULL,
	timestamp TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_register_log_servo ON register_log(servo, timestamp);
`

// SQLiteSink stores one register_log row per register.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating register_log: %w", err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite:" + s.path }

// Write inserts the row's registers in one transaction.
func (s *SQLiteSink) Write(ctx context.Context, r Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO register_log (batch, servo, port, register, value, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	ts := r.Timestamp.UTC().Format(time.RFC3339Nano)
	for _, k := range r.sortedRegisters() {
		if _, err := stmt.ExecContext(ctx, r.Batch, r.Servo, r.Port, string(k), r.Registers[k], ts); err != nil {
			return fmt.Errorf("insert servo %d %s: %w", r.Servo, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
