package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewBounded_Validation(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		errorMsg string
	}{
		{name: "valid", capacity: 5},
		{name: "zero", capacity: 0, errorMsg: "queue capacity must be >= 1 (got 0)"},
		{name: "negative", capacity: -3, errorMsg: "queue capacity must be >= 1 (got -3)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewBounded[int]("test-validation", tt.capacity)
			if tt.errorMsg != "" {
				if err == nil || err.Error() != tt.errorMsg {
					t.Errorf("error = %v, want %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if q.Cap() != tt.capacity {
				t.Errorf("Cap() = %d, want %d", q.Cap(), tt.capacity)
			}
		})
	}
}

func TestBounded_FIFO(t *testing.T) {
	q, err := NewBounded[string]("test-fifo", 3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c"} {
		if err := q.Put(ctx, s); err != nil {
			t.Fatalf("Put(%q) error = %v", s, err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Get(ctx)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != want {
			t.Errorf("Get() = %q, want %q", got, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestBounded_PutBlocksWhenFull(t *testing.T) {
	q, err := NewBounded[int]("test-backpressure", 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_ = q.Put(ctx, 1)
	_ = q.Put(ctx, 2)

	done := make(chan struct{})
	go func() {
		_ = q.Put(ctx, 3)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Put returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}
	if q.Len() != q.Cap() {
		t.Errorf("Len() = %d, want %d", q.Len(), q.Cap())
	}

	if v, _ := q.Get(ctx); v != 1 {
		t.Errorf("Get() = %d, want 1", v)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put did not resume after Get freed capacity")
	}
}

func TestBounded_GetBlocksWhenEmpty(t *testing.T) {
	q, err := NewBounded[int]("test-empty", 1)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = q.Get(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() error = %v, want DeadlineExceeded", err)
	}
}

func TestBounded_PutCancelled(t *testing.T) {
	q, err := NewBounded[int]("test-cancel", 1)
	if err != nil {
		t.Fatal(err)
	}
	_ = q.Put(context.Background(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Put(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want Canceled", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestBounded_CapacityNeverExceeded(t *testing.T) {
	const capacity = 4
	q, err := NewBounded[int]("test-concurrent", capacity)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = q.Put(ctx, i)
			}
		}()
	}

	received := 0
	for received < 150 {
		if l := q.Len(); l > capacity {
			t.Fatalf("Len() = %d exceeds capacity %d", l, capacity)
		}
		if _, err := q.Get(ctx); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		received++
	}
	wg.Wait()

	if q.Len() != 0 {
		t.Errorf("Len() = %d after draining, want 0", q.Len())
	}
}
