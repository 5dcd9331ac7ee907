// Package pipeline runs the producer/consumer fetch pipeline.
//
// A single producer walks the work list in order, fetches every target
// through a rate-limited Fetcher and puts the results on a bounded queue.
// A fixed pool of consumers drains the queue into per-consumer batches and
// flushes each batch through a BatchWriter in one transaction.
//
// Example usage:
//
//	p, err := pipeline.New(fetcher, writer, pipeline.DefaultConfig(), logger)
//	summary, err := p.Run(ctx, targets)
//
// Shutdown protocol:
//   - The producer enqueues exactly one termination item per consumer after
//     the last result, so every consumer wakes up, flushes its remainder and
//     exits. Queue FIFO order guarantees all results are consumed before the
//     markers.
//   - When a fetch fails terminally the producer stops fetching, still
//     enqueues one abort marker per consumer and returns the fetch error.
//   - When a flush fails the consumer returns a *store.WriteError and the
//     run context is cancelled, which unblocks a producer waiting on a full
//     queue. Remaining consumers flush what they hold and exit.
//
// Because the queue is bounded, a slow writer throttles fetching: the
// producer blocks in Put while the queue is at capacity.
package pipeline
