package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS api_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TEXT    NOT NULL,
	url           TEXT    NOT NULL CHECK (length(url) > 0),
	status        INTEGER NOT NULL,
	response_time REAL    NOT NULL,
	batch_id      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_results_batch_id ON api_results (batch_id);
`

const sqliteInsert = `
INSERT INTO api_results (timestamp, url, status, response_time, batch_id)
VALUES (?, ?, ?, ?, ?)
`

// SQLite stores results in an embedded database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Without
// explicit query parameters the connection uses WAL journaling and a busy
// timeout so several writers in other processes can share the file.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time inside this process; transactions queue on the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	return &SQLite{db: db}, nil
}

// EnsureSchema implements Store.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create %s: %w", TableName, err)
	}
	return nil
}

// InsertBatch implements Store.
func (s *SQLite) InsertBatch(ctx context.Context, batchID uuid.UUID, records []fetch.Result) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	id := batchID.String()
	for i, r := range records {
		if _, err = stmt.ExecContext(ctx,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.Source,
			r.Status,
			r.Duration,
			id,
		); err != nil {
			return fmt.Errorf("insert record %d (%q): %w", i, r.Source, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count implements Store.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_results").Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", TableName, err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
