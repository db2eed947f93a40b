package service

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
	"github.com/layer-3/ferryman/registry"
)

// VerifyService runs the verification pipeline: envelope checks, temporal
// checks, adapter delegation and the read-only replay pre-check. It is
// stateless aside from that replay lookup, so resource servers may call it
// speculatively any number of times.
type VerifyService struct {
	registry *registry.Registry
	guard    ports.ReplayGuard
}

// NewVerifyService creates a new verification service.
func NewVerifyService(reg *registry.Registry, guard ports.ReplayGuard) *VerifyService {
	return &VerifyService{registry: reg, guard: guard}
}

// checkEnvelope validates the fields the core interprets itself. It returns
// an empty reason when the envelope is acceptable.
func checkEnvelope(req *core.PaymentRequirements, payload *core.PaymentPayload) (reason, message string) {
	if payload.X402Version != core.X402Version {
		return core.ReasonEnvelopeMismatch, fmt.Sprintf("unsupported x402 version %d", payload.X402Version)
	}
	if payload.Scheme != req.Scheme {
		return core.ReasonEnvelopeMismatch, fmt.Sprintf("payload scheme %q does not match required %q", payload.Scheme, req.Scheme)
	}
	if payload.Network != req.Network {
		return core.ReasonEnvelopeMismatch, fmt.Sprintf("payload network %q does not match required %q", payload.Network, req.Network)
	}
	return "", ""
}

// Verify validates a payload against the requirements and returns a definite
// verdict. It never settles and has no side effects.
func (s *VerifyService) Verify(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.VerificationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if reason, message := checkEnvelope(req, payload); reason != "" {
		return core.Invalid(reason, message), nil
	}

	if req.Expired(time.Now()) {
		return core.Invalid(core.ReasonExpired, "payment requirements have expired"), nil
	}

	adapter, err := s.registry.Resolve(req.Scheme, req.Network)
	if err != nil {
		return core.Invalid(core.ReasonUnsupportedScheme, err.Error()), nil
	}

	verification, err := adapter.Verify(ctx, req, payload)
	if err != nil {
		return nil, fmt.Errorf("adapter verification errored: %w", err)
	}

	// The adapter's invalid verdict is never overridden; its valid verdict
	// is still subject to the replay pre-check below.
	if !verification.Valid {
		return core.Invalid(core.ReasonVerificationFailed, verification.Reason), nil
	}

	// Guards against adapters that only check on-chain state lazily and
	// could race with a commit made by this engine.
	committed, err := s.guard.IsCommitted(ctx, verification.ReplayToken)
	if err != nil {
		return nil, fmt.Errorf("replay lookup failed: %w", err)
	}
	if committed {
		return core.Invalid(core.ReasonAlreadySettled, "authorization has already been settled"), nil
	}

	return &core.VerificationResult{Valid: true, Payer: verification.Payer}, nil
}
