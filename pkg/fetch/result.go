package fetch

import (
	"math"
	"time"
)

// Result is the normalized outcome of one successful fetch.
type Result struct {
	// Timestamp is when the response was received (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Source is the target identifier that was fetched.
	Source string `json:"url"`

	// Status is the HTTP status code. Error statuses are still results.
	Status int `json:"status"`

	// Duration is the elapsed time of the successful attempt in seconds,
	// rounded to milliseconds.
	Duration float64 `json:"response_time"`
}

// roundSeconds converts d to seconds rounded to three decimals.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
