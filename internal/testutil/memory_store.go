package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/fetch-pipeline/pkg/fetch"
	"github.com/google/uuid"
)

// ErrEmptySource mirrors the results table's non-empty url constraint.
var ErrEmptySource = errors.New("url must not be empty")

// Row is a persisted result.
type Row struct {
	ID      int64
	BatchID uuid.UUID
	fetch.Result
}

// MemoryStore is an in-memory store.Store with transactional batches and
// failure injection.
type MemoryStore struct {
	mu          sync.Mutex
	rows        []Row
	nextID      int64
	batchSizes  []int
	inserts     int
	schemaCalls int
	failAt      map[int]error
	closed      bool

	// InsertDelay is applied to every InsertBatch call.
	InsertDelay time.Duration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{failAt: make(map[int]error)}
}

// FailInsert makes the n-th InsertBatch call (1-based) fail with err.
func (s *MemoryStore) FailInsert(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt[n] = err
}

// EnsureSchema implements store.Store.
func (s *MemoryStore) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaCalls++
	return nil
}

// InsertBatch implements store.Store. Either every record is stored or none.
func (s *MemoryStore) InsertBatch(ctx context.Context, batchID uuid.UUID, records []fetch.Result) error {
	if s.InsertDelay > 0 {
		select {
		case <-time.After(s.InsertDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store is closed")
	}

	s.inserts++
	if err, ok := s.failAt[s.inserts]; ok {
		return err
	}

	for i, r := range records {
		if r.Source == "" {
			return fmt.Errorf("insert record %d: %w", i, ErrEmptySource)
		}
	}

	for _, r := range records {
		s.nextID++
		s.rows = append(s.rows, Row{ID: s.nextID, BatchID: batchID, Result: r})
	}
	s.batchSizes = append(s.batchSizes, len(records))
	return nil
}

// Count implements store.Store.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

// Close implements store.Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Rows returns a copy of the stored rows in insertion order.
func (s *MemoryStore) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

// Sources returns the url of every stored row in insertion order.
func (s *MemoryStore) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sources := make([]string, len(s.rows))
	for i, r := range s.rows {
		sources[i] = r.Source
	}
	return sources
}

// BatchSizes returns the size of every committed batch.
func (s *MemoryStore) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batchSizes...)
}

// SchemaCalls returns how often EnsureSchema was called.
func (s *MemoryStore) SchemaCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaCalls
}
