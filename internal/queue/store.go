package queue

import (
	"context"
	"sync"
)

// JobStore persists queued jobs across restarts, keyed by job id. The
// manager treats every call as best-effort: a failing store degrades the
// restart-survival guarantee, never the live publishing flow.
type JobStore interface {
	// Put inserts or overwrites a record by id.
	Put(ctx context.Context, rec JobRecord) error
	// Delete removes a record. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error
	// GetAll returns every stored record, in no particular order.
	GetAll(ctx context.Context) ([]JobRecord, error)
}

// MemoryStore keeps records in a map. Used by tests and as the fallback when
// redis is unreachable, in which case jobs survive only as long as the
// process.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]JobRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]JobRecord)}
}

func (s *MemoryStore) Put(_ context.Context, rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *MemoryStore) GetAll(_ context.Context) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]JobRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		recs = append(recs, rec)
	}
	return recs, nil
}
