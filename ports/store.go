package ports

import (
	"context"

	"github.com/layer-3/ferryman/core"
)

// AttemptStore persists settlement attempts keyed by payment key. Create is
// atomic check-and-set so two processes cannot both open an attempt for the
// same key; Update transitions are only accepted from the Pending state.
type AttemptStore interface {
	// Create stores the attempt if no attempt exists for its payment key.
	// It returns false when an attempt already exists.
	Create(ctx context.Context, attempt *core.SettlementAttempt) (bool, error)

	// Get returns the attempt for a payment key, or core.ErrAttemptNotFound.
	Get(ctx context.Context, paymentKey string) (*core.SettlementAttempt, error)

	// Update overwrites the stored attempt. The stored state must still be
	// Pending; updating a terminal attempt returns an error.
	Update(ctx context.Context, attempt *core.SettlementAttempt) error
}

// IdempotencyStore backs the payment-identifier extension: it maps a
// client-supplied id to the payment key and payload fingerprint it was first
// bound with. Binding is first-write-wins.
type IdempotencyStore interface {
	// Lookup returns the record for id, or core.ErrAttemptNotFound.
	Lookup(ctx context.Context, id string) (*core.IdempotencyRecord, error)

	// Bind stores the record for id. A second bind with a different payload
	// hash returns core.ErrIdempotencyConflict; rebinding the same payload
	// is a no-op.
	Bind(ctx context.Context, id string, record *core.IdempotencyRecord) error
}
