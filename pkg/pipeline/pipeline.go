package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/Sternrassler/fetch-pipeline/pkg/logging"
	"github.com/Sternrassler/fetch-pipeline/pkg/queue"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	itemsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchpipe_pipeline_items_enqueued_total",
		Help: "Total fetch results put on the pipeline queue",
	})

	batchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchpipe_pipeline_batches_flushed_total",
		Help: "Total batches flushed by consumers",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_pipeline_runs_total",
		Help: "Total pipeline runs by outcome (success, failed)",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetchpipe_pipeline_run_duration_seconds",
		Help:    "Wall time of pipeline runs in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
)

// Fetcher fetches one target. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (fetch.Result, error)
}

// BatchWriter persists one batch atomically. *store.Writer implements it.
type BatchWriter interface {
	Flush(ctx context.Context, batch []fetch.Result) error
}

// Config holds pipeline configuration.
type Config struct {
	// QueueSize is the capacity of the queue between producer and consumers.
	QueueSize int
	// Consumers is the number of consumer goroutines.
	Consumers int
	// BatchSize is the number of results a consumer buffers before flushing.
	BatchSize int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize: 10,
		Consumers: 3,
		BatchSize: 10,
	}
}

// Validate rejects non-positive sizes.
func (c Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be >= 1 (got %d)", c.QueueSize)
	}
	if c.Consumers < 1 {
		return fmt.Errorf("consumers must be >= 1 (got %d)", c.Consumers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1 (got %d)", c.BatchSize)
	}
	return nil
}

// ConsumerStats describes one consumer after a run.
type ConsumerStats struct {
	ID        int
	State     ConsumerState
	Consumed  int
	Persisted int
	Flushes   int

	// Markers is the number of termination markers the consumer took off
	// the queue.
	Markers    int
	// ExitReason is "done" or "aborted" after a marker, "cancelled" when the
	// run context ended first, and empty if the consumer failed.
	ExitReason string
}

// Summary describes a finished run. On failure it holds partial counts.
type Summary struct {
	RunID     string
	Targets   int
	Fetched   int
	Persisted int
	Batches   int
	Producer  ProducerState
	Consumers []ConsumerStats
	Duration  time.Duration
}

// Pipeline wires a Fetcher to a BatchWriter through a bounded queue.
type Pipeline struct {
	fetcher Fetcher
	writer  BatchWriter
	config  Config
	logger  zerolog.Logger
}

// New creates a Pipeline.
func New(fetcher Fetcher, writer BatchWriter, cfg Config, logger zerolog.Logger) (*Pipeline, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Pipeline{
		fetcher: fetcher,
		writer:  writer,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Run fetches every target and persists the results. It returns when the
// producer and all consumers have exited.
//
// The returned error is the first failure of the run: a terminal fetch
// error, a *store.WriteError, or the cancellation cause of ctx.
func (p *Pipeline) Run(ctx context.Context, targets []string) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := logging.WithRun(p.logger, runID)

	q, err := queue.NewBounded[Item]("pipeline", p.config.QueueSize)
	if err != nil {
		return Summary{RunID: runID}, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	prod := &producer{
		fetcher:   p.fetcher,
		queue:     q,
		consumers: p.config.Consumers,
		logger:    logging.ForProducer(logger),
	}

	cons := make([]*consumer, p.config.Consumers)
	for i := range cons {
		cons[i] = &consumer{
			id:        i,
			queue:     q,
			writer:    p.writer,
			batchSize: p.config.BatchSize,
			logger:    logging.ForConsumer(logger, i),
		}
	}

	logger.Info().
		Int("targets", len(targets)).
		Int("queue_size", p.config.QueueSize).
		Int("consumers", p.config.Consumers).
		Int("batch_size", p.config.BatchSize).
		Msg("Pipeline starting")

	var g errgroup.Group

	// The producer never cancels the run: on failure it has already
	// delivered abort markers and consumers must still flush.
	g.Go(func() error {
		return prod.run(runCtx, targets)
	})

	for _, c := range cons {
		g.Go(func() error {
			if err := c.run(runCtx); err != nil {
				cancel(err)
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		// Prefer the error that cancelled the run over the context errors
		// it caused in other goroutines.
		if cause := context.Cause(runCtx); cause != nil {
			err = cause
		}
	}

	summary := Summary{
		RunID:     runID,
		Targets:   len(targets),
		Fetched:   prod.fetched,
		Producer:  prod.state,
		Consumers: make([]ConsumerStats, len(cons)),
		Duration:  time.Since(start),
	}
	for i, c := range cons {
		summary.Consumers[i] = ConsumerStats{
			ID:         c.id,
			State:      c.state,
			Consumed:   c.consumed,
			Persisted:  c.persisted,
			Flushes:    c.flushes,
			Markers:    c.markers,
			ExitReason: c.exitReason,
		}
		summary.Persisted += c.persisted
		summary.Batches += c.flushes
	}

	runDuration.Observe(summary.Duration.Seconds())

	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		logger.Error().
			Err(err).
			Int("fetched", summary.Fetched).
			Int("persisted", summary.Persisted).
			Dur("duration", summary.Duration).
			Msg("Pipeline failed")
		return summary, err
	}

	runsTotal.WithLabelValues("success").Inc()
	logger.Info().
		Int("fetched", summary.Fetched).
		Int("persisted", summary.Persisted).
		Int("batches", summary.Batches).
		Dur("duration", summary.Duration).
		Msg("Pipeline complete")

	return summary, nil
}
