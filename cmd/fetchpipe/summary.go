package main

import (
	"os"

	"github.com/Sternrassler/fetch-pipeline/pkg/pipeline"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// resourceUsage is the process CPU time and resident memory at run end.
type resourceUsage struct {
	CPUSeconds float64
	RSSBytes   uint64
}

func currentUsage() (resourceUsage, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return resourceUsage{}, err
	}

	var usage resourceUsage
	times, err := proc.Times()
	if err != nil {
		return resourceUsage{}, err
	}
	usage.CPUSeconds = times.User + times.System

	mem, err := proc.MemoryInfo()
	if err != nil {
		return resourceUsage{}, err
	}
	usage.RSSBytes = mem.RSS

	return usage, nil
}

// logSummary writes the final run line.
func logSummary(logger zerolog.Logger, s pipeline.Summary, runErr error) {
	flushes := zerolog.Arr()
	for _, c := range s.Consumers {
		flushes.Int(c.Flushes)
	}

	event := logger.Info()
	if runErr != nil {
		event = logger.Error().Err(runErr)
	}

	event = event.
		Str("run_id", s.RunID).
		Str("producer", s.Producer.String()).
		Int("targets", s.Targets).
		Int("fetched", s.Fetched).
		Int("persisted", s.Persisted).
		Int("batches", s.Batches).
		Array("consumer_flushes", flushes).
		Dur("duration", s.Duration)

	if usage, err := currentUsage(); err == nil {
		event = event.
			Float64("cpu_seconds", usage.CPUSeconds).
			Uint64("rss_bytes", usage.RSSBytes)
	}

	event.Msg("Run summary")
}
