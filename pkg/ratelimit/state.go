// Package ratelimit implements the admission gate shared by all fetch attempts.
// A limiter admits at most Limit operations per window of length Period; callers
// that would exceed the budget block until the next window opens.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes every window counter stored in Redis.
// Full key format: fetchpipe:ratelimit:<name>:<window-start-unix-ms>
const RedisKeyPrefix = "fetchpipe:ratelimit"

// WindowState is a snapshot of a fixed-window limiter.
type WindowState struct {
	// Limit is the number of admissions allowed per window.
	Limit int `json:"limit"`

	// Count is the number of admissions already granted in the current window.
	Count int `json:"count"`

	// WindowStart is when the current window opened.
	WindowStart time.Time `json:"window_start"`

	// WindowEnd is when the current window closes and the count resets.
	WindowEnd time.Time `json:"window_end"`
}

// Remaining returns how many admissions are left in the current window.
func (s WindowState) Remaining() int {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// IsExhausted returns true if the next caller has to wait for the window to reset.
func (s WindowState) IsExhausted() bool {
	return s.Count >= s.Limit
}

// TimeUntilReset returns the duration until the window closes, relative to now.
// Returns 0 if the window has already closed.
func (s WindowState) TimeUntilReset(now time.Time) time.Duration {
	d := s.WindowEnd.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
