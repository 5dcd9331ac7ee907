package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// demoTargetCount is the size of the --demo work list.
const demoTargetCount = 49

// demoTargets returns https://httpbin.org/status/<code> for codes 1..49.
func demoTargets() []string {
	targets := make([]string, demoTargetCount)
	for i := range targets {
		targets[i] = fmt.Sprintf("https://httpbin.org/status/%d", i+1)
	}
	return targets
}

// readTargets reads one target per line. Blank lines and lines starting
// with # are skipped.
func readTargets(r io.Reader) ([]string, error) {
	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

// collectTargets builds the work list: positional args first, then the
// targets file, then the demo list.
func collectTargets(args []string, targetsFile string, demo bool) ([]string, error) {
	targets := append([]string(nil), args...)

	if targetsFile != "" {
		f, err := os.Open(targetsFile)
		if err != nil {
			return nil, fmt.Errorf("open targets file: %w", err)
		}
		defer f.Close()

		fromFile, err := readTargets(f)
		if err != nil {
			return nil, fmt.Errorf("read targets file %s: %w", targetsFile, err)
		}
		targets = append(targets, fromFile...)
	}

	if demo {
		targets = append(targets, demoTargets()...)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets: pass URLs as arguments, --targets-file or --demo")
	}
	return targets, nil
}
