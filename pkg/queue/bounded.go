// Package queue provides a fixed-capacity FIFO queue that blocks producers
// when full and consumers when empty.
package queue

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fetchpipe_queue_depth",
		Help: "Current number of items held by the queue",
	}, []string{"queue"})

	queueBlockedPuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchpipe_queue_blocked_puts_total",
		Help: "Number of Put calls that had to wait for free capacity",
	}, []string{"queue"})
)

// Bounded is a FIFO queue with a capacity fixed at construction.
// It is safe for concurrent use by multiple producers and consumers.
type Bounded[T any] struct {
	name  string
	items chan T
	depth prometheus.Gauge
}

// NewBounded creates a queue holding at most capacity items. name labels
// the queue's metrics.
func NewBounded[T any](name string, capacity int) (*Bounded[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be >= 1 (got %d)", capacity)
	}

	return &Bounded[T]{
		name:  name,
		items: make(chan T, capacity),
		depth: queueDepth.WithLabelValues(name),
	}, nil
}

// Put appends item, blocking while the queue is full. The only error is
// ctx's.
func (q *Bounded[T]) Put(ctx context.Context, item T) error {
	select {
	case q.items <- item:
		q.depth.Inc()
		return nil
	default:
	}

	queueBlockedPuts.WithLabelValues(q.name).Inc()

	select {
	case q.items <- item:
		q.depth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest item, blocking while the queue is empty.
func (q *Bounded[T]) Get(ctx context.Context) (T, error) {
	select {
	case item := <-q.items:
		q.depth.Dec()
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	return len(q.items)
}

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return cap(q.items)
}
