package store

import (
	"context"
	"sync"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

// MemoryIdempotencyStore implements the IdempotencyStore interface with an
// in-process map. Single-instance only.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]core.IdempotencyRecord
}

// NewMemoryIdempotencyStore creates a new MemoryIdempotencyStore.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		records: make(map[string]core.IdempotencyRecord),
	}
}

var _ ports.IdempotencyStore = (*MemoryIdempotencyStore)(nil)

// Lookup returns the record bound to id.
func (s *MemoryIdempotencyStore) Lookup(ctx context.Context, id string) (*core.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, core.ErrAttemptNotFound
	}

	copied := record
	return &copied, nil
}

// Bind stores the record for id, first-write-wins. Rebinding the same payload
// is a no-op; a different payload is a conflict, never a silent overwrite.
func (s *MemoryIdempotencyStore) Bind(ctx context.Context, id string, record *core.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[id]
	if !ok {
		s.records[id] = *record
		return nil
	}

	if existing.PayloadHash != record.PayloadHash {
		return core.ErrIdempotencyConflict
	}
	return nil
}
