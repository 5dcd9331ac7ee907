package fetch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_fetch_retries_total",
		Help: "Total number of fetch retry attempts by error class",
	}, []string{"error_class"})

	fetchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetchpipe_fetch_retry_backoff_seconds",
		Help:    "Backoff duration before a fetch retry by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_fetch_retry_exhausted_total",
		Help: "Total number of targets whose retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy holds the configuration for retry logic.
//
// The delay before retry n (n >= 1) is
//
//	min(MaxBackoff, InitialBackoff * Multiplier^(n-1) + U[0, Jitter))
//
// With Multiplier >= 2 and Jitter <= InitialBackoff the delays are
// non-decreasing regardless of the random draw.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial one).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry, before jitter.
	InitialBackoff time.Duration

	// MaxBackoff caps every delay, jitter included.
	MaxBackoff time.Duration

	// Multiplier is the growth factor between consecutive delays.
	Multiplier float64

	// Jitter is the upper bound of the random duration added to each delay.
	Jitter time.Duration

	// Rand returns a value in [0, 1). Defaults to math/rand.Float64.
	Rand func() float64

	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the default retry policy: 3 attempts, 1s initial
// delay doubling up to 10s, with up to 1s of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         1 * time.Second,
	}
}

// Validate checks the policy for values that would make the retry loop misbehave.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 || p.Jitter < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", p.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1 (got %v)", p.Multiplier)
	}
	return nil
}

// Backoff returns the delay before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	base := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(retry-1))
	if base >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}

	random := p.Rand
	if random == nil {
		random = rand.Float64
	}

	d := time.Duration(base + random()*float64(p.Jitter))
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// RetryHook is called after a failed attempt, before waiting for the next one.
type RetryHook func(attempt int, backoff time.Duration, errorClass ErrorClass, err error)

// retryWithBackoff executes fn until it succeeds, the error is not retryable,
// or MaxAttempts is reached. classify maps an attempt error to its class.
// It returns the number of attempts made alongside the final error.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, fn func(attempt int) error, classify func(error) ErrorClass, onRetry RetryHook) (int, ErrorClass, error) {
	sleepFn := policy.Sleep
	if sleepFn == nil {
		sleepFn = sleepContext
	}

	var lastErr error
	var errorClass ErrorClass

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, "", nil
		}

		lastErr = err
		errorClass = classify(err)

		if !shouldRetry(errorClass) {
			return attempt, errorClass, lastErr
		}

		// If this was the last attempt, don't wait
		if attempt >= policy.MaxAttempts {
			break
		}

		backoff := policy.Backoff(attempt)
		fetchRetriesTotal.WithLabelValues(string(errorClass)).Inc()
		fetchRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(backoff.Seconds())

		if onRetry != nil {
			onRetry(attempt, backoff, errorClass, err)
		}

		if err := sleepFn(ctx, backoff); err != nil {
			return attempt, ErrorClassCancelled, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	fetchRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	return policy.MaxAttempts, errorClass, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, policy.MaxAttempts, lastErr)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
