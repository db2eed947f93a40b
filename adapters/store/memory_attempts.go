package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

// MemoryAttemptStore implements the AttemptStore interface with an in-process
// map. Single-instance only, like MemoryReplayGuard.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]core.SettlementAttempt
}

// NewMemoryAttemptStore creates a new MemoryAttemptStore.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: make(map[string]core.SettlementAttempt),
	}
}

var _ ports.AttemptStore = (*MemoryAttemptStore)(nil)

// Create stores the attempt unless one already exists for its payment key.
func (s *MemoryAttemptStore) Create(ctx context.Context, attempt *core.SettlementAttempt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attempts[attempt.PaymentKey]; exists {
		return false, nil
	}

	s.attempts[attempt.PaymentKey] = *attempt
	return true, nil
}

// Get returns the attempt for a payment key.
func (s *MemoryAttemptStore) Get(ctx context.Context, paymentKey string) (*core.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[paymentKey]
	if !ok {
		return nil, core.ErrAttemptNotFound
	}

	copied := attempt
	return &copied, nil
}

// Update overwrites the stored attempt. Terminal attempts are immutable.
func (s *MemoryAttemptStore) Update(ctx context.Context, attempt *core.SettlementAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.attempts[attempt.PaymentKey]
	if !ok {
		return core.ErrAttemptNotFound
	}
	if current.State.Terminal() {
		return fmt.Errorf("attempt %s is already %s: %w", attempt.PaymentKey, current.State, core.ErrStoreOperationFailed)
	}

	s.attempts[attempt.PaymentKey] = *attempt
	return nil
}

// Sweep removes terminal attempts older than the retention window. The redis
// store relies on key TTLs instead; this exists for long-lived single-instance
// deployments and tests.
func (s *MemoryAttemptStore) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for key, attempt := range s.attempts {
		if attempt.State.Terminal() && attempt.UpdatedAt.Before(cutoff) {
			delete(s.attempts, key)
			removed++
		}
	}
	return removed
}
