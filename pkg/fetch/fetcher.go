// Package fetch performs rate-limited fetches of remote targets with retry,
// exponential backoff and jitter, and normalizes successes into Results.
package fetch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_fetch_attempts_total",
		Help: "Total fetch attempts by outcome (HTTP status or error class)",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetchpipe_fetch_duration_seconds",
		Help:    "Duration of successful fetch attempts in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// Config holds the fetcher configuration.
type Config struct {
	// Timeout bounds a single attempt, not the whole retry loop.
	Timeout time.Duration

	// Retry is the policy applied to failed attempts.
	Retry RetryPolicy
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Retry:   DefaultRetryPolicy(),
	}
}

// Fetcher fetches targets through a Transport, gated by a shared Limiter.
type Fetcher struct {
	transport Transport
	limiter   ratelimit.Limiter
	config    Config
	logger    zerolog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// New creates a new Fetcher.
func New(transport Transport, limiter ratelimit.Limiter, cfg Config, logger zerolog.Logger) (*Fetcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	return &Fetcher{
		transport: transport,
		limiter:   limiter,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Fetch fetches target. Every attempt first acquires the rate limiter, then
// calls the transport under the per-attempt timeout. Transport failures are
// retried according to the retry policy; any HTTP status is a success.
//
// On terminal failure the returned error is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, target string) (Result, error) {
	var result Result

	attempts, errClass, err := retryWithBackoff(ctx, f.config.Retry,
		func(attempt int) error {
			return f.attempt(ctx, target, attempt, &result)
		},
		func(err error) ErrorClass {
			return classify(ctx, err)
		},
		func(attempt int, backoff time.Duration, errClass ErrorClass, err error) {
			f.logger.Warn().
				Err(err).
				Str("target", target).
				Int("attempt", attempt).
				Str("error_class", string(errClass)).
				Dur("backoff", backoff).
				Msg("Fetch failed, retrying")
		},
	)
	if err != nil {
		f.logger.Error().
			Err(err).
			Str("target", target).
			Int("attempts", attempts).
			Str("error_class", string(errClass)).
			Msg("Fetch failed")

		return Result{}, &FetchError{
			Target:   target,
			Attempts: attempts,
			Class:    errClass,
			Err:      err,
		}
	}

	if attempts > 1 {
		f.logger.Info().
			Str("target", target).
			Int("attempt", attempts).
			Msg("Fetch succeeded after retry")
	}

	return result, nil
}

// attempt performs one rate-limited transport call.
func (f *Fetcher) attempt(ctx context.Context, target string, attempt int, out *Result) error {
	if err := f.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire rate limit: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	f.logger.Debug().
		Str("target", target).
		Int("attempt", attempt).
		Msg("Fetching target")

	start := time.Now()
	status, err := f.transport.Do(attemptCtx, target)
	elapsed := time.Since(start)

	if err != nil {
		fetchAttemptsTotal.WithLabelValues(string(classify(ctx, err))).Inc()
		return err
	}

	fetchAttemptsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	fetchDuration.Observe(elapsed.Seconds())

	*out = Result{
		Timestamp: f.now().UTC(),
		Source:    target,
		Status:    status,
		Duration:  roundSeconds(elapsed),
	}
	return nil
}
