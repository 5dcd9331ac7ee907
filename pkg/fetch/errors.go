package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection/protocol failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents an attempt exceeding its per-attempt timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCancelled represents cancellation of the caller's context.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// FetchError is the terminal failure for one target: either retries were
// exhausted or the attempt loop was stopped by cancellation.
type FetchError struct {
	Target   string
	Attempts int
	Class    ErrorClass
	Err      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s) (%s): %v",
		e.Target, e.Attempts, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// classify categorizes an attempt error. parent is the caller's context, not
// the per-attempt one: a deadline on the attempt is a timeout, a done parent
// is a cancellation.
func classify(parent context.Context, err error) ErrorClass {
	if parent.Err() != nil {
		return ErrorClassCancelled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}

	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassNetwork, ErrorClassTimeout:
		return true
	case ErrorClassCancelled:
		// Nobody is waiting for the result anymore
		return false
	default:
		return false
	}
}
