package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/fetch-pipeline/internal/config"
	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/Sternrassler/fetch-pipeline/pkg/logging"
	"github.com/Sternrassler/fetch-pipeline/pkg/metrics"
	"github.com/Sternrassler/fetch-pipeline/pkg/pipeline"
	"github.com/Sternrassler/fetch-pipeline/pkg/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runOptions are the flags of the run command that are not config keys.
type runOptions struct {
	configFile  string
	targetsFile string
	demo        bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run [url...]",
		Short: "Fetch targets and persist their results",
		Long: `Fetch every target under the configured rate limit and store the results.

Settings come from flags, FETCHPIPE_* environment variables (a .env file is
loaded first) and an optional YAML file, in that order of precedence.

Example:
  fetchpipe run --demo
  fetchpipe run --targets-file urls.txt --db-driver postgres --dsn postgres://localhost/results`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, opts.configFile)
			if err != nil {
				return err
			}

			targets, err := collectTargets(args, opts.targetsFile, opts.demo)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, targets)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&opts.targetsFile, "targets-file", "", "File with one target URL per line")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "Fetch the httpbin.org/status/1..49 demo list")
	config.RegisterFlags(cmd.Flags())

	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}

	return cmd
}

// run wires the configured collaborators and executes one pipeline run.
func run(ctx context.Context, cfg config.Config, targets []string) error {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("fetchpipe")

	limiter, closeLimiter, err := cfg.NewLimiter(ctx, logging.NewLogger("ratelimit"))
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}
	defer closeLimiter()

	fetcher, err := fetch.New(
		fetch.NewHTTPTransport(cfg.UserAgent, nil),
		limiter,
		cfg.FetchConfig(),
		logging.NewLogger("fetch"),
	)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	db, err := cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	writer, err := store.NewWriter(db, logging.NewLogger("store"))
	if err != nil {
		return err
	}

	p, err := pipeline.New(fetcher, writer, cfg.PipelineConfig(), logging.NewLogger("pipeline"))
	if err != nil {
		return err
	}

	logger.Info().
		Int("targets", len(targets)).
		Str("limiter", cfg.Limiter).
		Int("rate_limit", cfg.RateLimit).
		Dur("rate_window", cfg.RateWindow).
		Str("db_driver", cfg.DBDriver).
		Msg("Starting run")

	summary, runErr := p.Run(ctx, targets)
	logSummary(logger, summary, runErr)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := metrics.Push(pushCtx, cfg.PushgatewayURL, metrics.DefaultJob, summary.RunID); err != nil {
			logger.Warn().Err(err).Msg("Metrics push failed")
		}
	}

	return runErr
}
