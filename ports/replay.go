package ports

import (
	"context"

	"github.com/layer-3/ferryman/core"
)

// ReplayGuard is the single source of truth for "has this authorization been
// spent". Tokens follow a monotonic lifecycle: unseen -> claimed -> committed,
// with claimed entries eligible for release back to unseen only on a confirmed
// permanent settlement failure. A committed token is never released.
type ReplayGuard interface {
	// TryClaim atomically moves a token from unseen/released to claimed on
	// behalf of owner (a payment key). It returns true if the claim is held
	// by owner after the call, which makes resumption after a crash
	// re-entrant, and false if the token is claimed by a different owner or
	// already committed.
	TryClaim(ctx context.Context, token core.ReplayToken, owner string) (bool, error)

	// Commit moves a claimed token to committed. Idempotent when already
	// committed.
	Commit(ctx context.Context, token core.ReplayToken) error

	// Release returns a claimed token to unseen. Only legal from claimed;
	// releasing a committed token is an error.
	Release(ctx context.Context, token core.ReplayToken) error

	// IsCommitted reports whether the token has been committed. Read-only,
	// used by the verification pipeline's replay pre-check.
	IsCommitted(ctx context.Context, token core.ReplayToken) (bool, error)
}
