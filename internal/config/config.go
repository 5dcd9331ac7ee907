// Package config loads fetchpipe settings from flags, FETCHPIPE_* environment
// variables and an optional YAML file, in that order of precedence, and builds
// the pipeline's collaborators from them.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/Sternrassler/fetch-pipeline/pkg/pipeline"
	"github.com/Sternrassler/fetch-pipeline/pkg/ratelimit"
	"github.com/Sternrassler/fetch-pipeline/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FETCHPIPE_RATE_LIMIT.
const EnvPrefix = "FETCHPIPE"

// Limiter kinds.
const (
	LimiterWindow = "window"
	LimiterBucket = "bucket"
	LimiterRedis  = "redis"
)

// Config is the complete runtime configuration.
type Config struct {
	RateLimit   int           `mapstructure:"rate_limit"`
	RateWindow  time.Duration `mapstructure:"rate_window"`
	Limiter     string        `mapstructure:"limiter"`
	LimiterName string        `mapstructure:"limiter_name"`
	RedisAddr   string        `mapstructure:"redis_addr"`

	QueueSize int `mapstructure:"queue_size"`
	Consumers int `mapstructure:"consumers"`
	BatchSize int `mapstructure:"batch_size"`

	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `mapstructure:"retry_max_backoff"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	UserAgent           string        `mapstructure:"user_agent"`

	DBDriver string `mapstructure:"db_driver"`
	DSN      string `mapstructure:"dsn"`

	LogLevel       string `mapstructure:"log_level"`
	LogPretty      bool   `mapstructure:"log_pretty"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// Default returns the built-in configuration.
func Default() Config {
	retry := fetch.DefaultRetryPolicy()
	pipe := pipeline.DefaultConfig()

	return Config{
		RateLimit:           5,
		RateWindow:          time.Second,
		Limiter:             LimiterWindow,
		LimiterName:         "default",
		RedisAddr:           "localhost:6379",
		QueueSize:           pipe.QueueSize,
		Consumers:           pipe.Consumers,
		BatchSize:           pipe.BatchSize,
		RetryAttempts:       retry.MaxAttempts,
		RetryInitialBackoff: retry.InitialBackoff,
		RetryMaxBackoff:     retry.MaxBackoff,
		FetchTimeout:        fetch.DefaultConfig().Timeout,
		UserAgent:           "fetchpipe/0.1.0",
		DBDriver:            store.DriverSQLite,
		DSN:                 "results.db",
		LogLevel:            "info",
	}
}

// SetDefaults registers every key with its default, which also makes the key
// visible to AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("rate_window", d.RateWindow)
	v.SetDefault("limiter", d.Limiter)
	v.SetDefault("limiter_name", d.LimiterName)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("queue_size", d.QueueSize)
	v.SetDefault("consumers", d.Consumers)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_initial_backoff", d.RetryInitialBackoff)
	v.SetDefault("retry_max_backoff", d.RetryMaxBackoff)
	v.SetDefault("fetch_timeout", d.FetchTimeout)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("db_driver", d.DBDriver)
	v.SetDefault("dsn", d.DSN)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("pushgateway_url", d.PushgatewayURL)
}

// RegisterFlags adds a flag for every key. Flag names use dashes
// (rate-limit for rate_limit).
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Int("rate-limit", d.RateLimit, "Maximum fetch attempts per rate window")
	fs.Duration("rate-window", d.RateWindow, "Rate limit window length")
	fs.String("limiter", d.Limiter, "Rate limiter implementation: window (fixed windows), bucket (evenly paced, rate-limit per rate-window), redis (fixed windows shared through Redis)")
	fs.String("limiter-name", d.LimiterName, "Budget name shared through Redis by the redis limiter")
	fs.String("redis-addr", d.RedisAddr, "Redis address for the redis limiter")
	fs.Int("queue-size", d.QueueSize, "Capacity of the queue between producer and consumers")
	fs.Int("consumers", d.Consumers, "Number of consumers")
	fs.Int("batch-size", d.BatchSize, "Results buffered per consumer before a flush")
	fs.Int("retry-attempts", d.RetryAttempts, "Maximum attempts per target, first attempt included")
	fs.Duration("retry-initial-backoff", d.RetryInitialBackoff, "Delay before the first retry")
	fs.Duration("retry-max-backoff", d.RetryMaxBackoff, "Upper bound of any retry delay")
	fs.Duration("fetch-timeout", d.FetchTimeout, "Timeout of a single fetch attempt")
	fs.String("user-agent", d.UserAgent, "User-Agent header sent with every request")
	fs.String("db-driver", d.DBDriver, "Results store (sqlite, postgres)")
	fs.String("dsn", d.DSN, "SQLite file path or Postgres connection URL")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.Bool("log-pretty", d.LogPretty, "Human-readable console logs instead of JSON")
	fs.String("pushgateway-url", d.PushgatewayURL, "Prometheus Pushgateway to push run metrics to")
}

// BindFlags binds every flag of fs to its dashed-to-underscored key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, known := keySet[key]; !known {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

var keySet = func() map[string]struct{} {
	v := viper.New()
	SetDefaults(v)
	keys := make(map[string]struct{})
	for _, k := range v.AllKeys() {
		keys[k] = struct{}{}
	}
	return keys
}()

// Load resolves the configuration. configFile is optional; when set it must
// exist.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects non-positive sizes and unknown component names.
func (c Config) Validate() error {
	if c.RateLimit < 1 {
		return fmt.Errorf("rate_limit must be >= 1 (got %d)", c.RateLimit)
	}
	if c.RateWindow < time.Millisecond {
		return fmt.Errorf("rate_window must be >= 1ms (got %v)", c.RateWindow)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be > 0 (got %v)", c.FetchTimeout)
	}
	if err := c.PipelineConfig().Validate(); err != nil {
		return err
	}
	if err := c.FetchConfig().Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	switch c.Limiter {
	case LimiterWindow, LimiterBucket:
	case LimiterRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis limiter")
		}
	default:
		return fmt.Errorf("unknown limiter %q (want window, bucket or redis)", c.Limiter)
	}

	switch c.DBDriver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("unknown db_driver %q (want sqlite or postgres)", c.DBDriver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

// PipelineConfig returns the pipeline sizes.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		QueueSize: c.QueueSize,
		Consumers: c.Consumers,
		BatchSize: c.BatchSize,
	}
}

// FetchConfig returns the fetcher configuration. Jitter equals the initial
// backoff.
func (c Config) FetchConfig() fetch.Config {
	retry := fetch.DefaultRetryPolicy()
	retry.MaxAttempts = c.RetryAttempts
	retry.InitialBackoff = c.RetryInitialBackoff
	retry.MaxBackoff = c.RetryMaxBackoff
	retry.Jitter = c.RetryInitialBackoff

	return fetch.Config{
		Timeout: c.FetchTimeout,
		Retry:   retry,
	}
}

// NewLimiter builds the configured rate limiter. The returned close function
// releases any connection the limiter holds and is never nil.
func (c Config) NewLimiter(ctx context.Context, logger zerolog.Logger) (ratelimit.Limiter, func() error, error) {
	noop := func() error { return nil }

	switch c.Limiter {
	case LimiterBucket:
		b, err := ratelimit.NewBucket(c.RateLimit, c.RateWindow)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil

	case LimiterRedis:
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("connect to redis at %s: %w", c.RedisAddr, err)
		}
		w, err := ratelimit.NewRedisWindow(client, c.LimiterName, c.RateLimit, c.RateWindow, logger)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return w, client.Close, nil

	default:
		w, err := ratelimit.NewWindow(c.RateLimit, c.RateWindow, logger)
		if err != nil {
			return nil, noop, err
		}
		return w, noop, nil
	}
}

// OpenStore opens the configured results store.
func (c Config) OpenStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, c.DBDriver, c.DSN)
}
