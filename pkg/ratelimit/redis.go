package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisWindow is a fixed-window limiter whose counter lives in Redis, so any
// number of producer processes pointing at the same Redis and name share one
// budget. Windows are aligned to multiples of period since the Unix epoch.
type RedisWindow struct {
	redis  *redis.Client
	name   string
	limit  int
	period time.Duration
	logger zerolog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewRedisWindow creates a Redis-backed limiter admitting limit operations per period.
func NewRedisWindow(redisClient *redis.Client, name string, limit int, period time.Duration, logger zerolog.Logger) (*RedisWindow, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if name == "" {
		return nil, fmt.Errorf("limiter name is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0 (got %d)", limit)
	}
	if period < time.Millisecond {
		return nil, fmt.Errorf("period must be >= 1ms (got %v)", period)
	}

	return &RedisWindow{
		redis:  redisClient,
		name:   name,
		limit:  limit,
		period: period,
		logger: logger,
		now:    time.Now,
	}, nil
}

// key returns the Redis key of the window starting at windowStart.
func (r *RedisWindow) key(windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%d", RedisKeyPrefix, r.name, windowStart.UnixMilli())
}

// Acquire increments the counter of the current window and admits the caller
// if the count stays within the limit. Otherwise it waits for the next window.
func (r *RedisWindow) Acquire(ctx context.Context) error {
	began := time.Now()
	throttled := false

	for {
		now := r.now()
		windowStart := now.Truncate(r.period)
		key := r.key(windowStart)

		// INCR and PEXPIRE in one MULTI so a crashed caller never leaves a
		// counter without a TTL.
		var incr *redis.IntCmd
		_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.PExpire(ctx, key, 2*r.period)
			return nil
		})
		if err != nil {
			return fmt.Errorf("increment window counter: %w", err)
		}

		if incr.Val() <= int64(r.limit) {
			rateLimitAdmittedTotal.WithLabelValues("redis").Inc()
			rateLimitWaitSeconds.WithLabelValues("redis").Observe(time.Since(began).Seconds())
			return nil
		}

		if !throttled {
			throttled = true
			rateLimitThrottledTotal.WithLabelValues("redis").Inc()
		}

		wait := windowStart.Add(r.period).Sub(now)
		r.logger.Debug().
			Str("key", key).
			Int64("count", incr.Val()).
			Dur("wait", wait).
			Msg("Shared rate limit window exhausted, waiting")

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// State reads the current window from Redis.
// Returns an empty window if no caller has been admitted in it yet.
func (r *RedisWindow) State(ctx context.Context) (WindowState, error) {
	windowStart := r.now().Truncate(r.period)
	state := WindowState{
		Limit:       r.limit,
		WindowStart: windowStart,
		WindowEnd:   windowStart.Add(r.period),
	}

	val, err := r.redis.Get(ctx, r.key(windowStart)).Result()
	if err == redis.Nil {
		return state, nil
	}
	if err != nil {
		return WindowState{}, fmt.Errorf("get window counter: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return WindowState{}, fmt.Errorf("parse window counter: %w", err)
	}
	state.Count = count

	return state, nil
}
