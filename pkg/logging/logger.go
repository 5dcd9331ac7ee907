// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Field names attached by the helpers below.
const (
	FieldComponent  = "component"
	FieldRunID      = "run_id"
	FieldRole       = "role"
	FieldConsumerID = "consumer_id"
)

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// WithRun tags every event of logger with the pipeline run id.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str(FieldRunID, runID).Logger()
}

// ForProducer returns the producer's logger within a run.
func ForProducer(logger zerolog.Logger) zerolog.Logger {
	return logger.With().Str(FieldRole, "producer").Logger()
}

// ForConsumer returns the logger of consumer id within a run.
func ForConsumer(logger zerolog.Logger, id int) zerolog.Logger {
	return logger.With().
		Str(FieldRole, "consumer").
		Int(FieldConsumerID, id).
		Logger()
}

// Nop returns a logger that discards everything. Handy for tests and for
// library callers that do not want pipeline output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Rate limiter waits (window, wait duration)
//   - Individual fetch attempts
//   - Schema initialization
//
// Info: Normal operation events
//   - Results enqueued (with queue depth)
//   - Consumer progress and batch flushes
//   - Consumer exit, run completion summary
//
// Warn: Warning conditions that don't prevent operation
//   - Fetch retries (attempt, target, backoff)
//   - Producer draining with abort markers
//
// Error: Error conditions requiring attention
//   - Retries exhausted for a target
//   - Batch flush failures (transaction rolled back)
//   - Configuration errors
//
// Context Fields:
//   - run_id: Identifier of one pipeline run
//   - component: Emitting package (fetch, ratelimit, pipeline, store, fetchpipe)
//   - role: producer or consumer, within the pipeline component
//   - target: Work item identifier (URL)
//   - attempt: Fetch attempt number (1-based)
//   - status: HTTP status code of a result
//   - duration: Fetch duration
//   - queue_size: Queue depth after an enqueue/dequeue
//   - consumer_id: Consumer index
//   - batch_id: Identifier of a flushed batch
//   - batch_size: Records in a flushed batch
