package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5, cfg.RateLimit)
	assert.Equal(t, time.Second, cfg.RateWindow)
	assert.Equal(t, 10, cfg.QueueSize)
	assert.Equal(t, 3, cfg.Consumers)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "results.db", cfg.DSN)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("FETCHPIPE_RATE_LIMIT", "20")
	t.Setenv("FETCHPIPE_RATE_WINDOW", "2s")
	t.Setenv("FETCHPIPE_CONSUMERS", "7")
	t.Setenv("FETCHPIPE_LOG_PRETTY", "true")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.RateLimit)
	assert.Equal(t, 2*time.Second, cfg.RateWindow)
	assert.Equal(t, 7, cfg.Consumers)
	assert.True(t, cfg.LogPretty)
}

func TestLoad_FileEnvAndFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetchpipe.yaml")
	yaml := []byte("queue_size: 25\nbatch_size: 4\nconsumers: 2\ndb_driver: postgres\ndsn: postgres://u:p@localhost/db\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	// Env beats the file.
	t.Setenv("FETCHPIPE_BATCH_SIZE", "6")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	fs.String("targets-file", "", "not a config key")

	v := viper.New()
	require.NoError(t, BindFlags(v, fs))
	// Flags beat env and file, but only when set.
	require.NoError(t, fs.Parse([]string{"--consumers", "9"}))

	cfg, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.QueueSize, "from file")
	assert.Equal(t, 6, cfg.BatchSize, "env over file")
	assert.Equal(t, 9, cfg.Consumers, "flag over file")
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 5, cfg.RateLimit, "unset flag keeps default")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_InvalidValueRejected(t *testing.T) {
	t.Setenv("FETCHPIPE_QUEUE_SIZE", "0")

	_, err := Load(viper.New(), "")
	require.Error(t, err)
	assert.Equal(t, "queue_size must be >= 1 (got 0)", err.Error())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit = 0 }, errorMsg: "rate_limit must be >= 1 (got 0)"},
		{name: "tiny window", mutate: func(c *Config) { c.RateWindow = time.Microsecond }, errorMsg: "rate_window must be >= 1ms (got 1µs)"},
		{name: "zero timeout", mutate: func(c *Config) { c.FetchTimeout = 0 }, errorMsg: "fetch_timeout must be > 0 (got 0s)"},
		{name: "zero consumers", mutate: func(c *Config) { c.Consumers = 0 }, errorMsg: "consumers must be >= 1 (got 0)"},
		{name: "negative batch", mutate: func(c *Config) { c.BatchSize = -2 }, errorMsg: "batch_size must be >= 1 (got -2)"},
		{name: "zero attempts", mutate: func(c *Config) { c.RetryAttempts = 0 }, errorMsg: "retry: max_attempts must be >= 1 (got 0)"},
		{name: "unknown limiter", mutate: func(c *Config) { c.Limiter = "leaky" }, errorMsg: `unknown limiter "leaky" (want window, bucket or redis)`},
		{name: "redis without addr", mutate: func(c *Config) { c.Limiter = LimiterRedis; c.RedisAddr = "" }, errorMsg: "redis_addr is required for the redis limiter"},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, errorMsg: `unknown db_driver "mysql" (want sqlite or postgres)`},
		{name: "empty dsn", mutate: func(c *Config) { c.DSN = "" }, errorMsg: "dsn is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.errorMsg, err.Error())
		})
	}
}

func TestConfig_FetchConfig(t *testing.T) {
	cfg := Default()
	cfg.RetryAttempts = 5
	cfg.RetryInitialBackoff = 200 * time.Millisecond
	cfg.RetryMaxBackoff = 3 * time.Second
	cfg.FetchTimeout = 4 * time.Second

	fc := cfg.FetchConfig()
	assert.Equal(t, 4*time.Second, fc.Timeout)
	assert.Equal(t, 5, fc.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, fc.Retry.InitialBackoff)
	assert.Equal(t, 200*time.Millisecond, fc.Retry.Jitter)
	assert.Equal(t, 3*time.Second, fc.Retry.MaxBackoff)
	assert.Equal(t, 2.0, fc.Retry.Multiplier)
}

func TestConfig_NewLimiter(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	l, closeFn, err := cfg.NewLimiter(ctx, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.Window{}, l)
	assert.NoError(t, closeFn())

	cfg.Limiter = LimiterBucket
	l, closeFn, err = cfg.NewLimiter(ctx, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.Bucket{}, l)
	assert.NoError(t, closeFn())

	cfg.Limiter = LimiterRedis
	cfg.RedisAddr = "127.0.0.1:1"
	_, closeFn, err = cfg.NewLimiter(ctx, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
	assert.NotNil(t, closeFn)
}

func TestConfig_OpenStore(t *testing.T) {
	cfg := Default()
	cfg.DSN = filepath.Join(t.TempDir(), "results.db")

	s, err := cfg.OpenStore(context.Background())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnsureSchema(context.Background()))
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
