package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetchpipe_ratelimit_wait_seconds",
		Help:    "Time callers spent blocked in Acquire by limiter kind",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"limiter"})

	rateLimitAdmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_ratelimit_admitted_total",
		Help: "Total number of operations admitted by limiter kind",
	}, []string{"limiter"})

	rateLimitThrottledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_ratelimit_throttled_total",
		Help: "Total number of times a caller had to wait for the next window",
	}, []string{"limiter"})
)

// Limiter gates operations. Acquire blocks until the caller is admitted.
// The only failure modes are context cancellation and, for shared limiters,
// the backing store being unreachable.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Unlimited admits every caller immediately.
type Unlimited struct{}

// Acquire implements Limiter.
func (Unlimited) Acquire(ctx context.Context) error {
	return ctx.Err()
}

// Window is an in-process fixed-window limiter. A window opens with the first
// admission after the previous one expired; at most limit callers are admitted
// until it closes. Safe for concurrent use.
type Window struct {
	limit  int
	period time.Duration
	logger zerolog.Logger

	// now is swapped in tests.
	now func() time.Time

	mu    sync.Mutex
	start time.Time
	count int
}

// NewWindow creates a fixed-window limiter admitting limit operations per period.
func NewWindow(limit int, period time.Duration, logger zerolog.Logger) (*Window, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0 (got %d)", limit)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0 (got %v)", period)
	}

	return &Window{
		limit:  limit,
		period: period,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Acquire blocks until the current window has room, then admits the caller.
func (w *Window) Acquire(ctx context.Context) error {
	began := time.Now()
	throttled := false

	for {
		wait, ok := w.tryAcquire()
		if ok {
			rateLimitAdmittedTotal.WithLabelValues("window").Inc()
			rateLimitWaitSeconds.WithLabelValues("window").Observe(time.Since(began).Seconds())
			return nil
		}

		if !throttled {
			throttled = true
			rateLimitThrottledTotal.WithLabelValues("window").Inc()
		}

		w.logger.Debug().
			Dur("wait", wait).
			Int("limit", w.limit).
			Dur("period", w.period).
			Msg("Rate limit window exhausted, waiting")

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire admits the caller if the current window has room. Otherwise it
// returns how long until the window closes.
func (w *Window) tryAcquire() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.start.IsZero() || now.Sub(w.start) >= w.period {
		w.start = now
		w.count = 0
	}

	if w.count < w.limit {
		w.count++
		return 0, true
	}

	return w.start.Add(w.period).Sub(now), false
}

// State returns a snapshot of the current window. Once the last window has
// expired the snapshot is an empty window opening now, which is what the next
// Acquire would see.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.start.IsZero() || now.Sub(w.start) >= w.period {
		return WindowState{
			Limit:       w.limit,
			WindowStart: now,
			WindowEnd:   now.Add(w.period),
		}
	}

	return WindowState{
		Limit:       w.limit,
		Count:       w.count,
		WindowStart: w.start,
		WindowEnd:   w.start.Add(w.period),
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
