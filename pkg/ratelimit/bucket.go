package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Bucket spaces admissions evenly, one every period/limit. The bucket holds a
// single token, so an idle stretch never builds up a burst and no interval of
// length period admits more than limit callers.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket creates a limiter admitting limit operations per period, paced
// period/limit apart.
func NewBucket(limit int, period time.Duration) (*Bucket, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0 (got %d)", limit)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0 (got %v)", period)
	}

	every := period / time.Duration(limit)
	return &Bucket{
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}, nil
}

// Acquire implements Limiter.
func (b *Bucket) Acquire(ctx context.Context) error {
	began := time.Now()

	if !b.limiter.Allow() {
		rateLimitThrottledTotal.WithLabelValues("bucket").Inc()
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	rateLimitAdmittedTotal.WithLabelValues("bucket").Inc()
	rateLimitWaitSeconds.WithLabelValues("bucket").Observe(time.Since(began).Seconds())
	return nil
}

// Tokens returns the number of tokens currently available.
func (b *Bucket) Tokens() float64 {
	return b.limiter.Tokens()
}
