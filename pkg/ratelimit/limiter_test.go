package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewWindow_Validation(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		period      time.Duration
		expectError bool
	}{
		{name: "valid", limit: 5, period: time.Second, expectError: false},
		{name: "zero limit", limit: 0, period: time.Second, expectError: true},
		{name: "negative limit", limit: -1, period: time.Second, expectError: true},
		{name: "zero period", limit: 5, period: 0, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWindow(tt.limit, tt.period, zerolog.Nop())
			if (err != nil) != tt.expectError {
				t.Errorf("NewWindow() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

// fakeClock is a manually advanced clock for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestWindow_TryAcquire(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	w, err := NewWindow(3, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}
	w.now = clock.Now

	for i := 0; i < 3; i++ {
		if _, ok := w.tryAcquire(); !ok {
			t.Fatalf("admission %d rejected, want admitted", i+1)
		}
	}

	clock.Advance(300 * time.Millisecond)
	wait, ok := w.tryAcquire()
	if ok {
		t.Fatal("4th admission in the same window was granted")
	}
	if wait != 700*time.Millisecond {
		t.Errorf("wait = %v, want 700ms", wait)
	}

	state := w.State()
	if !state.IsExhausted() {
		t.Errorf("State().IsExhausted() = false, want true (count=%d)", state.Count)
	}

	// Window rolls over exactly at start+period.
	clock.Advance(700 * time.Millisecond)
	if _, ok := w.tryAcquire(); !ok {
		t.Fatal("admission after window reset rejected")
	}
	if got := w.State().Count; got != 1 {
		t.Errorf("Count after reset = %d, want 1", got)
	}
}

func TestWindow_StateAfterExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	w, err := NewWindow(2, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}
	w.now = clock.Now

	if got := w.State(); got.Count != 0 || got.IsExhausted() {
		t.Errorf("State() before any admission = %+v, want empty window", got)
	}

	for i := 0; i < 2; i++ {
		if _, ok := w.tryAcquire(); !ok {
			t.Fatalf("admission %d rejected", i+1)
		}
	}
	if !w.State().IsExhausted() {
		t.Fatal("State().IsExhausted() = false with the window full")
	}

	clock.Advance(time.Second)
	state := w.State()
	if state.IsExhausted() {
		t.Errorf("State() after expiry = %+v, want not exhausted", state)
	}
	if state.Count != 0 || state.Remaining() != 2 {
		t.Errorf("Count = %d, Remaining = %d, want 0 and 2", state.Count, state.Remaining())
	}
	if !state.WindowStart.Equal(start.Add(time.Second)) {
		t.Errorf("WindowStart = %v, want %v", state.WindowStart, start.Add(time.Second))
	}

	if _, ok := w.tryAcquire(); !ok {
		t.Error("admission after expiry rejected although State reported room")
	}
}

func TestWindow_AcquireBlocksUntilNextWindow(t *testing.T) {
	w, err := NewWindow(2, 100*time.Millisecond, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := w.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	// Third caller must have waited for the first window to close.
	if elapsed < 80*time.Millisecond {
		t.Errorf("3 acquisitions with limit 2 took %v, expected to wait ~100ms", elapsed)
	}
}

func TestWindow_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	w, err := NewWindow(5, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Acquire(ctx); err != nil {
				if !errors.Is(err, context.DeadlineExceeded) {
					t.Errorf("Acquire() error = %v, want deadline exceeded", err)
				}
				rejected.Add(1)
				return
			}
			admitted.Add(1)
		}()
	}
	wg.Wait()

	if admitted.Load() != 5 {
		t.Errorf("admitted = %d, want 5", admitted.Load())
	}
	if rejected.Load() != 15 {
		t.Errorf("rejected = %d, want 15", rejected.Load())
	}
}

func TestWindow_AcquireContextCancelled(t *testing.T) {
	w, err := NewWindow(1, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}
	if err := w.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := w.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() on cancelled ctx = %v, want context.Canceled", err)
	}
}
