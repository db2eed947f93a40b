package store

import (
	"context"
	"sync"

	"github.com/layer-3/ferryman/ports"
)

// MemoryKeyLock implements the KeyLock interface in process memory. Entries
// are reference counted and removed once the last holder releases, so the map
// does not grow with the number of payments ever seen. Single-instance only;
// horizontally scaled deployments need RedisKeyLock.
type MemoryKeyLock struct {
	mu    sync.Mutex
	locks map[string]*memoryLockEntry
}

type memoryLockEntry struct {
	ch   chan struct{}
	refs int
}

// NewMemoryKeyLock creates a new MemoryKeyLock.
func NewMemoryKeyLock() *MemoryKeyLock {
	return &MemoryKeyLock{locks: make(map[string]*memoryLockEntry)}
}

var _ ports.KeyLock = (*MemoryKeyLock)(nil)

// Acquire blocks until the key is held or ctx is done.
func (m *MemoryKeyLock) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &memoryLockEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, entry)
		return nil, ctx.Err()
	}

	return func() {
		<-entry.ch
		m.unref(key, entry)
	}, nil
}

func (m *MemoryKeyLock) unref(key string, entry *memoryLockEntry) {
	m.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
