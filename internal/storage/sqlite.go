package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the space, value store and exertion log tables exist. The path
// must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// connPragmas are applied by the driver to every pooled connection. The
// space worker and Await polling write and read concurrently, so each
// connection needs its own busy timeout.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// BootstrapSQLite creates the engine tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS space_entry (
  id           TEXT PRIMARY KEY,
  routine_id   TEXT NOT NULL,
  routine      TEXT NOT NULL,
  kind         TEXT NOT NULL,
  executor     TEXT NOT NULL,
  payload      JSON NOT NULL,
  status       TEXT NOT NULL,
  worker       TEXT,
  result       JSON,
  faults       JSON,
  created_at   TEXT NOT NULL,
  taken_at     TEXT,
  completed_at TEXT
);`,
		`CREATE TABLE IF NOT EXISTS value_store (
  handle     TEXT PRIMARY KEY,
  value      JSON NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS exertion_log (
  id          TEXT PRIMARY KEY,
  routine_id  TEXT NOT NULL,
  routine     TEXT NOT NULL,
  kind        TEXT NOT NULL,
  status      TEXT NOT NULL,
  faults      JSON,
  started_at  TEXT NOT NULL,
  duration_ms INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS space_entry_status_created_at_idx ON space_entry(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS exertion_log_routine_idx ON exertion_log(routine, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
