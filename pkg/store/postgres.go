package store

import (
	"context"
	"fmt"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS api_results (
	id            BIGSERIAL PRIMARY KEY,
	timestamp     TIMESTAMPTZ      NOT NULL,
	url           TEXT             NOT NULL CHECK (length(url) > 0),
	status        INTEGER          NOT NULL,
	response_time DOUBLE PRECISION NOT NULL,
	batch_id      UUID             NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_results_batch_id ON api_results (batch_id);
`

var postgresColumns = []string{"timestamp", "url", "status", "response_time", "batch_id"}

// Postgres stores results in a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database at dsn.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// schemaLockID is the advisory lock serializing schema creation; concurrent
// CREATE TABLE IF NOT EXISTS can otherwise fail on the pg_type catalog.
const schemaLockID = 0x66657463 // "fetc"

// EnsureSchema implements Store.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return p.withTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(schemaLockID)); err != nil {
			return fmt.Errorf("lock schema: %w", err)
		}
		if _, err := tx.Exec(ctx, postgresSchema); err != nil {
			return fmt.Errorf("create %s: %w", TableName, err)
		}
		return nil
	})
}

// InsertBatch implements Store. Rows are streamed with COPY; the CHECK
// constraint is evaluated per row, so one bad record aborts the whole copy.
func (p *Postgres) InsertBatch(ctx context.Context, batchID uuid.UUID, records []fetch.Result) error {
	id := pgtype.UUID{Bytes: [16]byte(batchID), Valid: true}

	return p.withTransaction(ctx, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{TableName}, postgresColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{r.Timestamp.UTC(), r.Source, r.Status, r.Duration, id}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy batch: %w", err)
		}
		if int(n) != len(records) {
			return fmt.Errorf("copy batch: wrote %d of %d rows", n, len(records))
		}
		return nil
	})
}

func (p *Postgres) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		} else if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return fn(tx)
}

// Count implements Store.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM api_results").Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", TableName, err)
	}
	return int(n), nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
