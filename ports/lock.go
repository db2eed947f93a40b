package ports

import "context"

// KeyLock serializes settlement work per payment key. Implementations backed
// by a shared store extend the exclusion across every facilitator instance;
// in-process implementations cover single-instance deployments only.
type KeyLock interface {
	// Acquire blocks until the key's lock is held or ctx is done. The
	// returned release function must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
