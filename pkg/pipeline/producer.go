package pipeline

import (
	"context"
	"fmt"

	"github.com/Sternrassler/fetch-pipeline/pkg/queue"
	"github.com/rs/zerolog"
)

// producer fetches the work list in order and feeds the queue.
type producer struct {
	fetcher   Fetcher
	queue     *queue.Bounded[Item]
	consumers int
	logger    zerolog.Logger

	state   ProducerState
	fetched int
}

func (p *producer) run(ctx context.Context, targets []string) error {
	p.state = ProducerRunning

	for _, target := range targets {
		result, err := p.fetcher.Fetch(ctx, target)
		if err != nil {
			p.state = ProducerFailed
			p.logger.Error().
				Err(err).
				Str("target", target).
				Int("fetched", p.fetched).
				Msg("Fetch failed permanently, aborting run")

			if mErr := p.terminate(ctx, ReasonAborted); mErr != nil {
				p.logger.Warn().Err(mErr).Msg("Could not deliver abort markers")
			}
			return err
		}

		if err := p.queue.Put(ctx, ResultItem(result)); err != nil {
			p.state = ProducerFailed
			return fmt.Errorf("enqueue result for %s: %w", target, err)
		}
		p.fetched++
		itemsEnqueued.Inc()

		p.logger.Info().
			Str("target", target).
			Int("status", result.Status).
			Float64("duration", result.Duration).
			Int("queue_size", p.queue.Len()).
			Msg("Result enqueued")
	}

	p.state = ProducerDraining
	if err := p.terminate(ctx, ReasonDone); err != nil {
		p.state = ProducerFailed
		return err
	}

	p.state = ProducerDone
	p.logger.Info().
		Int("fetched", p.fetched).
		Int("consumers", p.consumers).
		Msg("Producer finished")
	return nil
}

// terminate enqueues one termination marker per consumer.
func (p *producer) terminate(ctx context.Context, reason Reason) error {
	for i := 0; i < p.consumers; i++ {
		if err := p.queue.Put(ctx, TerminationItem(reason)); err != nil {
			return fmt.Errorf("enqueue termination marker %d/%d: %w", i+1, p.consumers, err)
		}
	}

	p.logger.Debug().
		Str("reason", reason.String()).
		Int("markers", p.consumers).
		Msg("Termination markers enqueued")
	return nil
}
