package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	storeFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_store_flushes_total",
		Help: "Total batch flushes by outcome (committed, failed)",
	}, []string{"outcome"})

	storeRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchpipe_store_rows_written_total",
		Help: "Total rows committed to the results table",
	})

	storeFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetchpipe_store_flush_duration_seconds",
		Help:    "Duration of batch flushes in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Writer flushes batches of results to a Store.
// It is safe for concurrent use; each Flush is its own transaction.
type Writer struct {
	store  Store
	logger zerolog.Logger

	mu          sync.Mutex
	schemaReady bool

	// newBatchID is swapped in tests.
	newBatchID func() uuid.UUID
}

// NewWriter creates a Writer on top of s.
func NewWriter(s Store, logger zerolog.Logger) (*Writer, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}

	return &Writer{
		store:      s,
		logger:     logger,
		newBatchID: uuid.New,
	}, nil
}

// Flush persists batch atomically. The table is created on the first call
// that succeeds in doing so. An empty batch is a no-op. Failures are
// returned as *WriteError.
func (w *Writer) Flush(ctx context.Context, batch []fetch.Result) error {
	if len(batch) == 0 {
		return nil
	}

	batchID := w.newBatchID()
	start := time.Now()

	if err := w.ensureSchema(ctx); err != nil {
		storeFlushesTotal.WithLabelValues("failed").Inc()
		return &WriteError{BatchID: batchID, Size: len(batch), Err: fmt.Errorf("ensure schema: %w", err)}
	}

	if err := w.store.InsertBatch(ctx, batchID, batch); err != nil {
		storeFlushesTotal.WithLabelValues("failed").Inc()
		w.logger.Error().
			Err(err).
			Str("batch_id", batchID.String()).
			Int("batch_size", len(batch)).
			Msg("Batch rolled back")
		return &WriteError{BatchID: batchID, Size: len(batch), Err: err}
	}

	elapsed := time.Since(start)
	storeFlushesTotal.WithLabelValues("committed").Inc()
	storeRowsWritten.Add(float64(len(batch)))
	storeFlushDuration.Observe(elapsed.Seconds())

	w.logger.Debug().
		Str("batch_id", batchID.String()).
		Int("batch_size", len(batch)).
		Dur("duration", elapsed).
		Msg("Batch committed")

	return nil
}

// Count returns the number of persisted rows.
func (w *Writer) Count(ctx context.Context) (int, error) {
	return w.store.Count(ctx)
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.schemaReady {
		return nil
	}
	if err := w.store.EnsureSchema(ctx); err != nil {
		return err
	}

	w.schemaReady = true
	w.logger.Debug().Str("table", TableName).Msg("Schema ready")
	return nil
}
