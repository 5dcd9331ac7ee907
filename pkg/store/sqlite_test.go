package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	require.Error(t, err)
}

func TestSQLite_EnsureSchemaIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_InsertBatch(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))

	batchID := uuid.New()
	require.NoError(t, s.InsertBatch(ctx, batchID, sampleBatch(4)))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var (
		url      string
		status   int
		duration float64
		stored   string
		ts       string
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT url, status, response_time, batch_id, timestamp FROM api_results ORDER BY id LIMIT 1",
	).Scan(&url, &status, &duration, &stored, &ts)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/a", url)
	assert.Equal(t, 200, status)
	assert.InDelta(t, 0.012, duration, 1e-9)
	assert.Equal(t, batchID.String(), stored)
	assert.Equal(t, "2026-03-01T12:00:00Z", ts)
}

func TestSQLite_IDsIncrease(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))

	require.NoError(t, s.InsertBatch(ctx, uuid.New(), sampleBatch(3)))
	require.NoError(t, s.InsertBatch(ctx, uuid.New(), sampleBatch(3)))

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM api_results ORDER BY rowid")
	require.NoError(t, err)
	defer rows.Close()

	last := int64(0)
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		assert.Greater(t, id, last)
		last = id
	}
	require.NoError(t, rows.Err())
}

// A record violating the url constraint in the middle of a batch must leave
// no row of that batch behind.
func TestSQLite_BatchIsAtomic(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))

	require.NoError(t, s.InsertBatch(ctx, uuid.New(), sampleBatch(2)))

	bad := sampleBatch(5)
	bad[2].Source = ""
	err := s.InsertBatch(ctx, uuid.New(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert record 2")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed batch must be rolled back entirely")
}

func TestSQLite_WriterRollbackThroughFlush(t *testing.T) {
	s := openTestSQLite(t)
	w, err := NewWriter(s, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	bad := sampleBatch(10)
	bad[9].Source = ""

	err = w.Flush(ctx, bad)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 10, we.Size)

	n, err := w.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, w.Flush(ctx, sampleBatch(10)))
	n, err = w.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestSQLite_ConcurrentWriters(t *testing.T) {
	s := openTestSQLite(t)
	w, err := NewWriter(s, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, w.Flush(ctx, sampleBatch(3)))
			}
		}()
	}
	wg.Wait()

	n, err := w.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6*5*3, n)

	var batches int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT batch_id) FROM api_results").Scan(&batches))
	assert.Equal(t, 30, batches)
}

func TestSQLite_ImplementsStore(t *testing.T) {
	var _ Store = (*SQLite)(nil)
	var _ Store = (*Postgres)(nil)
}
