package pipeline

import (
	"context"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/Sternrassler/fetch-pipeline/pkg/queue"
	"github.com/rs/zerolog"
)

// consumer drains the queue into a batch buffer and flushes it.
type consumer struct {
	id        int
	queue     *queue.Bounded[Item]
	writer    BatchWriter
	batchSize int
	logger    zerolog.Logger

	buffer     []fetch.Result
	state      ConsumerState
	consumed   int
	persisted  int
	flushes    int
	markers    int
	exitReason string
}

func (c *consumer) run(ctx context.Context) error {
	c.state = ConsumerActive
	c.buffer = make([]fetch.Result, 0, c.batchSize)

	for {
		item, err := c.queue.Get(ctx)
		if err != nil {
			// Run cancelled: keep what was already dequeued.
			if fErr := c.flush(ctx); fErr != nil {
				return fErr
			}
			c.exit("cancelled")
			return err
		}

		switch item.Kind {
		case KindTermination:
			c.markers++
			if err := c.flush(ctx); err != nil {
				return err
			}
			c.exit(item.Reason.String())
			return nil

		case KindResult:
			c.buffer = append(c.buffer, item.Result)
			c.consumed++

			c.logger.Debug().
				Str("target", item.Result.Source).
				Int("buffered", len(c.buffer)).
				Msg("Result consumed")

			if len(c.buffer) >= c.batchSize {
				if err := c.flush(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// flush writes the buffer on a context detached from run cancellation, so a
// batch already taken off the queue is not lost to a concurrent abort.
func (c *consumer) flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}

	size := len(c.buffer)
	if err := c.writer.Flush(context.WithoutCancel(ctx), c.buffer); err != nil {
		c.logger.Error().
			Err(err).
			Int("batch_size", size).
			Msg("Flush failed")
		return err
	}

	c.persisted += size
	c.flushes++
	c.buffer = c.buffer[:0]
	batchesFlushed.Inc()

	c.logger.Info().
		Int("batch_size", size).
		Int("persisted", c.persisted).
		Msg("Batch flushed")
	return nil
}

func (c *consumer) exit(reason string) {
	c.state = ConsumerDone
	c.exitReason = reason
	c.logger.Info().
		Str("reason", reason).
		Int("consumed", c.consumed).
		Int("persisted", c.persisted).
		Int("flushes", c.flushes).
		Msg("Consumer exiting")
}
