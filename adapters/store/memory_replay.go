package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

type tokenState int

const (
	tokenClaimed tokenState = iota
	tokenCommitted
)

type tokenEntry struct {
	state tokenState
	owner string
}

// MemoryReplayGuard implements the ReplayGuard interface with an in-process
// map. Correct only for a single-instance deployment; horizontally scaled
// facilitators must use RedisReplayGuard so claims are shared across processes.
type MemoryReplayGuard struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
}

// NewMemoryReplayGuard creates a new MemoryReplayGuard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{
		tokens: make(map[string]tokenEntry),
	}
}

var _ ports.ReplayGuard = (*MemoryReplayGuard)(nil)

// TryClaim atomically claims an unseen token for owner. Re-claiming a token
// already held by the same owner succeeds, so an interrupted settlement can
// resume.
func (g *MemoryReplayGuard) TryClaim(ctx context.Context, token core.ReplayToken, owner string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.tokens[token.Scoped()]
	if !ok {
		g.tokens[token.Scoped()] = tokenEntry{state: tokenClaimed, owner: owner}
		return true, nil
	}

	return entry.state == tokenClaimed && entry.owner == owner, nil
}

// Commit moves a claimed token to committed.
func (g *MemoryReplayGuard) Commit(ctx context.Context, token core.ReplayToken) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.tokens[token.Scoped()]
	if !ok {
		return fmt.Errorf("commit of unclaimed token %s: %w", token.Scoped(), core.ErrStoreOperationFailed)
	}
	if entry.state == tokenCommitted {
		return nil
	}

	entry.state = tokenCommitted
	g.tokens[token.Scoped()] = entry
	return nil
}

// Release returns a claimed token to unseen. Committed tokens are never
// released.
func (g *MemoryReplayGuard) Release(ctx context.Context, token core.ReplayToken) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.tokens[token.Scoped()]
	if !ok {
		return fmt.Errorf("release of unclaimed token %s: %w", token.Scoped(), core.ErrStoreOperationFailed)
	}
	if entry.state == tokenCommitted {
		return fmt.Errorf("release of committed token %s: %w", token.Scoped(), core.ErrAlreadySettled)
	}

	delete(g.tokens, token.Scoped())
	return nil
}

// IsCommitted reports whether the token has been committed.
func (g *MemoryReplayGuard) IsCommitted(ctx context.Context, token core.ReplayToken) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.tokens[token.Scoped()]
	return ok && entry.state == tokenCommitted, nil
}
