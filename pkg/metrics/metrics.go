// Package metrics documents the Prometheus metrics of fetchpipe and pushes
// them to a Pushgateway. All metrics are defined in their respective packages
// (fetch, ratelimit, queue, store, pipeline) via promauto to keep packages
// independent of each other.
//
// fetchpipe is a batch job with no listening surface, so metrics are pushed
// once when a run ends instead of being scraped.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Gatherer is the source of pushed metrics. promauto registers every
// collector with the default registry, which is also the default here.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// DefaultJob is the Pushgateway job label.
const DefaultJob = "fetchpipe"

// Push sends every gathered metric to the Pushgateway at url, replacing the
// previous push of job. The run id is attached as grouping label run_id when
// set.
func Push(ctx context.Context, url, job, runID string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = DefaultJob
	}

	pusher := push.New(url, job).Gatherer(Gatherer)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - fetchpipe_ratelimit_wait_seconds{limiter} (Histogram): Time callers waited for admission
//   - fetchpipe_ratelimit_admitted_total{limiter} (Counter): Admitted acquisitions
//   - fetchpipe_ratelimit_throttled_total{limiter} (Counter): Acquisitions that had to wait
//
// Fetch Metrics (pkg/fetch):
//   - fetchpipe_fetch_attempts_total{outcome} (Counter): Attempts by HTTP status or error class
//   - fetchpipe_fetch_duration_seconds (Histogram): Duration of successful attempts
//   - fetchpipe_fetch_retries_total{error_class} (Counter): Retries by error class
//   - fetchpipe_fetch_retry_backoff_seconds{error_class} (Histogram): Backoff before a retry
//   - fetchpipe_fetch_retry_exhausted_total{error_class} (Counter): Targets that exhausted retries
//
// Queue Metrics (pkg/queue):
//   - fetchpipe_queue_depth{queue} (Gauge): Items currently queued
//   - fetchpipe_queue_blocked_puts_total{queue} (Counter): Puts that waited for capacity
//
// Store Metrics (pkg/store):
//   - fetchpipe_store_flushes_total{outcome} (Counter): Batch flushes (committed, failed)
//   - fetchpipe_store_rows_written_total (Counter): Rows committed
//   - fetchpipe_store_flush_duration_seconds (Histogram): Flush duration
//
// Pipeline Metrics (pkg/pipeline):
//   - fetchpipe_pipeline_items_enqueued_total (Counter): Results put on the queue
//   - fetchpipe_pipeline_batches_flushed_total (Counter): Batches flushed by consumers
//   - fetchpipe_pipeline_runs_total{outcome} (Counter): Runs (success, failed)
//   - fetchpipe_pipeline_run_duration_seconds (Histogram): Run wall time
//
// Example Prometheus Queries:
//
//   # Share of attempts that needed a retry
//   sum(fetchpipe_fetch_retries_total) / sum(fetchpipe_fetch_attempts_total)
//
//   # Writer falling behind (producer blocked on a full queue)
//   rate(fetchpipe_queue_blocked_puts_total[5m]) > 0
//
//   # P95 rate limiter wait
//   histogram_quantile(0.95, rate(fetchpipe_ratelimit_wait_seconds_bucket[5m]))
