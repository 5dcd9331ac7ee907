// Package store persists fetch results in batches. A Writer wraps a Store
// engine, makes sure the results table exists and writes every batch inside
// a single transaction: either all rows of a batch are stored or none are.
//
// Two engines are provided:
//
//   - SQLite: an embedded, file-backed database (github.com/mattn/go-sqlite3)
//   - Postgres: a PostgreSQL server via pgx connection pool, rows streamed
//     with COPY inside a transaction
//
// Table layout (api_results):
//
//	id             surrogate key assigned by the store, monotonically increasing
//	timestamp      UTC time the response was received
//	url            fetched target, must not be empty
//	status         HTTP status code
//	response_time  seconds, millisecond precision
//	batch_id       UUID shared by all rows written in one transaction
package store

import (
	"context"
	"fmt"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/google/uuid"
)

// TableName is the table results are written to.
const TableName = "api_results"

// Supported engine names for Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a transactional results table.
type Store interface {
	// EnsureSchema creates the results table if it does not exist. It is
	// idempotent.
	EnsureSchema(ctx context.Context) error

	// InsertBatch writes all records in one transaction tagged with batchID.
	// On error nothing from the batch is persisted.
	InsertBatch(ctx context.Context, batchID uuid.UUID, records []fetch.Result) error

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying connections.
	Close() error
}

// Open opens the store engine named by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown db driver %q (want %q or %q)", driver, DriverSQLite, DriverPostgres)
	}
}

// WriteError reports a batch that could not be persisted. The batch was
// rolled back.
type WriteError struct {
	BatchID uuid.UUID
	Size    int
	Err     error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write batch %s (%d records): %v", e.BatchID, e.Size, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WriteError) Unwrap() error {
	return e.Err
}
