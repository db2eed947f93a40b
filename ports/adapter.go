package ports

import (
	"context"

	"github.com/layer-3/ferryman/core"
)

// SchemeAdapter is the contract every chain/scheme plugin implements. The
// engine never knows adapter internals: the adapter owns signature and proof
// validity, amount and recipient exactness, and balance checks for its chain.
type SchemeAdapter interface {
	// Verify checks a payload against the requirements without settling.
	// The returned replay token must be derived deterministically from the
	// payload contents, never from wall-clock time.
	Verify(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterVerification, error)

	// Settle executes the payment on the underlying ledger. Conditions that
	// cannot change on retry are reported with PermanentFailure; transient
	// chain errors are returned as ordinary errors.
	Settle(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterSettlement, error)

	// Status reports the authoritative on-chain state of a previously
	// broadcast settlement, used when resuming an interrupted attempt.
	Status(ctx context.Context, txRef string) (core.TxStatus, error)
}
