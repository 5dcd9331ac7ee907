package testutil

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
)

// FakeFetcher returns canned results without touching the network.
type FakeFetcher struct {
	// Delay is applied before every fetch.
	Delay time.Duration

	mu      sync.Mutex
	calls   []string
	results []fetch.Result
	fail    map[string]error
}

// NewFakeFetcher creates a FakeFetcher that succeeds for every target.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{fail: make(map[string]error)}
}

// FailOn makes fetching target return err.
func (f *FakeFetcher) FailOn(target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[target] = err
}

// Fetch returns a 200 result for target, or the configured error.
func (f *FakeFetcher) Fetch(ctx context.Context, target string) (fetch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	err := f.fail[target]
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return fetch.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return fetch.Result{}, err
	}

	result := fetch.Result{
		Timestamp: time.Now().UTC(),
		Source:    target,
		Status:    http.StatusOK,
		Duration:  f.Delay.Seconds(),
	}

	f.mu.Lock()
	f.results = append(f.results, result)
	f.mu.Unlock()

	return result, nil
}

// Results returns the successful results in call order.
func (f *FakeFetcher) Results() []fetch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetch.Result(nil), f.results...)
}

// Calls returns the fetched targets in call order.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
