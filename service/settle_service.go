package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
	"github.com/layer-3/ferryman/registry"
)

// DefaultSettleTimeout bounds how long a single settlement attempt may hold
// its key's lock across adapter RPC. On expiry the attempt is left Pending
// and resumable, never abandoned mid-state.
const DefaultSettleTimeout = 90 * time.Second

// SettleService is the settlement coordinator. It provides exactly-once
// settlement semantics per payment key on top of adapters whose chains only
// offer at-least-once broadcast: per-key single flight, claim-before-settle,
// terminal-result replay and Pending-attempt resumption.
type SettleService struct {
	registry    *registry.Registry
	guard       ports.ReplayGuard
	attempts    ports.AttemptStore
	idempotency ports.IdempotencyStore
	locks       ports.KeyLock
	events      ports.EventPublisher
	quotes      *QuoteService

	settleTimeout time.Duration
}

// NewSettleService creates a new settlement coordinator. The key lock must
// share its backend with the stores: in a horizontally scaled deployment it
// is what keeps two instances out of the settle path for one payment key at
// the same time. The event publisher and quote service are optional.
func NewSettleService(
	reg *registry.Registry,
	guard ports.ReplayGuard,
	attempts ports.AttemptStore,
	idempotency ports.IdempotencyStore,
	locks ports.KeyLock,
	events ports.EventPublisher,
	quotes *QuoteService,
) *SettleService {
	return &SettleService{
		registry:      reg,
		guard:         guard,
		attempts:      attempts,
		idempotency:   idempotency,
		locks:         locks,
		events:        events,
		quotes:        quotes,
		settleTimeout: DefaultSettleTimeout,
	}
}

// Settle executes a payment at most once per payment key. Concurrent and
// retried calls sharing a key all observe the same eventual outcome.
func (s *SettleService) Settle(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.SettlementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if reason, message := checkEnvelope(req, payload); reason != "" {
		return failure(req, reason, message), nil
	}

	if req.Expired(time.Now()) {
		return failure(req, core.ReasonExpired, "payment requirements have expired"), nil
	}

	// A replayed payment identifier is answered from the recorded outcome
	// before the adapter is involved at all.
	idempotencyID := payload.IdempotencyID()
	if idempotencyID != "" {
		result, err := s.cachedOutcome(ctx, idempotencyID, payload)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}

	adapter, err := s.registry.Resolve(req.Scheme, req.Network)
	if err != nil {
		return failure(req, core.ReasonUnsupportedScheme, err.Error()), nil
	}

	// Verification is re-run here even if the caller already hit /verify:
	// a verdict from a different call or process is never trusted at
	// settlement time. It also yields the deterministic replay token the
	// payment key is derived from.
	verification, err := adapter.Verify(ctx, req, payload)
	if err != nil {
		return nil, fmt.Errorf("adapter verification errored: %w", err)
	}
	if !verification.Valid {
		return failure(req, core.ReasonVerificationFailed, verification.Reason), nil
	}

	token := verification.ReplayToken
	paymentKey := core.DerivePaymentKey(req, token, idempotencyID)

	if idempotencyID != "" {
		record := &core.IdempotencyRecord{
			PaymentKey:  paymentKey,
			PayloadHash: core.HashPayload(payload.Payload),
			CreatedAt:   time.Now(),
		}
		if err := s.idempotency.Bind(ctx, idempotencyID, record); err != nil {
			return nil, err
		}
	}

	// Serializes all callers racing on this payment, across processes when
	// the lock is store-backed; unrelated payments settle in parallel.
	// Acquisition is detached from the caller's cancellation the same way
	// the broadcast is, bounded only by the settle timeout.
	lockCtx, cancelLock := context.WithTimeout(context.WithoutCancel(ctx), s.settleTimeout)
	defer cancelLock()
	release, err := s.locks.Acquire(lockCtx, paymentKey)
	if err != nil {
		return nil, fmt.Errorf("payment key lock not acquired: %w", err)
	}
	defer release()

	attempt, err := s.attempts.Get(ctx, paymentKey)
	switch {
	case err == nil:
	case errIsNotFound(err):
		attempt = nil
	default:
		return nil, err
	}

	if attempt == nil {
		now := time.Now()
		attempt = &core.SettlementAttempt{
			ID:          uuid.New().String(),
			PaymentKey:  paymentKey,
			State:       core.AttemptPending,
			Scheme:      req.Scheme,
			Network:     req.Network,
			Payer:       verification.Payer,
			ReplayToken: token.Value,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err := s.attempts.Create(ctx, attempt)
		if err != nil {
			return nil, err
		}
		if !created {
			// Another process opened the attempt between our Get and
			// Create; re-read and fall through to the shared paths.
			attempt, err = s.attempts.Get(ctx, paymentKey)
			if err != nil {
				return nil, err
			}
		}
	}

	// Idempotent replay: a terminal attempt is the recorded outcome.
	if attempt.State.Terminal() {
		return attempt.Result(), nil
	}

	// Resumption: a Pending attempt with a known broadcast is decided by
	// the chain, never by a blind re-submission.
	if attempt.TxRef != "" {
		result, resolved, err := s.resumeBroadcast(ctx, adapter, attempt, token)
		if err != nil {
			return nil, err
		}
		if resolved {
			return result, nil
		}
		// The chain has no record of the prior broadcast; settle again.
	}

	return s.execute(ctx, adapter, attempt, req, payload, token)
}

// cachedOutcome replays the outcome recorded under a payment identifier. It
// returns nil when the identifier is unseen or its attempt is not terminal
// yet, in which case the full settle path runs. A rebind with different
// payload bytes is a conflict even on the cached path.
func (s *SettleService) cachedOutcome(ctx context.Context, id string, payload *core.PaymentPayload) (*core.SettlementResult, error) {
	record, err := s.idempotency.Lookup(ctx, id)
	if errIsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if record.PayloadHash != core.HashPayload(payload.Payload) {
		return nil, fmt.Errorf("payment identifier %s: %w", id, core.ErrIdempotencyConflict)
	}

	attempt, err := s.attempts.Get(ctx, record.PaymentKey)
	if errIsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !attempt.State.Terminal() {
		return nil, nil
	}

	return attempt.Result(), nil
}

// resumeBroadcast queries the authoritative status of an earlier broadcast.
// resolved is false only when the chain reports the transaction as not found,
// in which case re-submission is safe.
func (s *SettleService) resumeBroadcast(ctx context.Context, adapter ports.SchemeAdapter, attempt *core.SettlementAttempt, token core.ReplayToken) (*core.SettlementResult, bool, error) {
	status, err := adapter.Status(ctx, attempt.TxRef)
	if err != nil {
		// Status unknown: keep the attempt Pending and let the caller
		// retry later.
		return attempt.Result(), true, nil
	}

	switch status {
	case core.TxStatusConfirmed:
		if err := s.guard.Commit(ctx, token); err != nil {
			return nil, true, err
		}
		return s.finalize(ctx, attempt, core.AttemptCommitted, attempt.TxRef, "", "")
	case core.TxStatusNotFound:
		return nil, false, nil
	default:
		return attempt.Result(), true, nil
	}
}

// execute runs claim -> adapter settle -> commit/release for an attempt that
// has no outstanding broadcast.
func (s *SettleService) execute(ctx context.Context, adapter ports.SchemeAdapter, attempt *core.SettlementAttempt, req *core.PaymentRequirements, payload *core.PaymentPayload, token core.ReplayToken) (*core.SettlementResult, error) {
	claimed, err := s.guard.TryClaim(ctx, token, attempt.PaymentKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		committed, err := s.guard.IsCommitted(ctx, token)
		if err != nil {
			return nil, err
		}
		if committed {
			// The same authorization was settled under another payment
			// key. This attempt can never succeed.
			result, _, err := s.finalize(ctx, attempt, core.AttemptFailed, "", core.ReasonAlreadySettled, "authorization has already been settled")
			return result, err
		}
		// Claimed by a different in-flight payment key. Fail fast; the
		// attempt stays Pending in case that claim is later released.
		attempt.LastError = "replay token claimed by another payment"
		attempt.UpdatedAt = time.Now()
		if err := s.attempts.Update(ctx, attempt); err != nil {
			return nil, err
		}
		return &core.SettlementResult{
			Network:      attempt.Network,
			ErrorReason:  core.ReasonAlreadyClaimed,
			ErrorMessage: "replay token claimed by another payment",
		}, nil
	}

	// Settlement is independent of the caller's connection lifetime: a
	// cancelled HTTP request must not cancel an in-flight broadcast. Only
	// the bounded timeout applies.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settleTimeout)
	defer cancel()

	settlement, err := adapter.Settle(settleCtx, req, payload)
	if err != nil {
		// Transient: the token stays claimed and the attempt stays
		// Pending, resumable by a later call with the same key.
		attempt.LastError = err.Error()
		attempt.UpdatedAt = time.Now()
		if updateErr := s.attempts.Update(ctx, attempt); updateErr != nil {
			return nil, updateErr
		}
		return attempt.Result(), nil
	}

	if settlement.PermanentFailure {
		if err := s.guard.Release(settleCtx, token); err != nil {
			return nil, err
		}
		reason := settlement.Reason
		if reason == "" {
			reason = core.ReasonPermanentFailure
		}
		result, _, err := s.finalize(settleCtx, attempt, core.AttemptFailed, "", reason, "adapter reported a permanent settlement failure")
		return result, err
	}

	// Record the broadcast before committing the token, so a crash between
	// the two leaves a resumable TxRef rather than a committed token with
	// no attempt pointing at it.
	attempt.TxRef = settlement.TxRef
	attempt.UpdatedAt = time.Now()
	if err := s.attempts.Update(settleCtx, attempt); err != nil {
		return nil, err
	}

	if err := s.guard.Commit(settleCtx, token); err != nil {
		return nil, err
	}

	result, _, err := s.finalize(settleCtx, attempt, core.AttemptCommitted, settlement.TxRef, "", "")
	if err != nil {
		return nil, err
	}

	if quoteToken := payload.FeeQuoteToken(); quoteToken != "" && s.quotes != nil {
		// Advisory only: a consume failure never affects the settlement.
		if err := s.quotes.Consume(settleCtx, quoteToken); err != nil {
			fmt.Printf("Warning: failed to consume fee quote: %v\n", err)
		}
	}

	return result, nil
}

// finalize transitions an attempt to its terminal state, publishes the
// outcome and returns the result every caller for this key will observe.
func (s *SettleService) finalize(ctx context.Context, attempt *core.SettlementAttempt, state core.AttemptState, txRef, failReason, message string) (*core.SettlementResult, bool, error) {
	attempt.State = state
	attempt.TxRef = txRef
	attempt.FailReason = failReason
	attempt.LastError = message
	attempt.UpdatedAt = time.Now()

	if err := s.attempts.Update(ctx, attempt); err != nil {
		return nil, true, err
	}

	if s.events != nil {
		event := &core.SettlementEvent{
			PaymentKey: attempt.PaymentKey,
			State:      string(state),
			Scheme:     attempt.Scheme,
			Network:    attempt.Network,
			Payer:      attempt.Payer,
			TxRef:      txRef,
			Reason:     failReason,
		}
		// The attempt is already persisted, which is the part that
		// matters; a publish failure must not fail the settlement.
		if err := s.events.PublishSettlement(ctx, event); err != nil {
			fmt.Printf("Warning: failed to publish settlement event: %v\n", err)
		}
	}

	return attempt.Result(), true, nil
}

// Attempt exposes the persisted attempt for a payment key, so Pending
// settlements remain queryable until they resolve.
func (s *SettleService) Attempt(ctx context.Context, paymentKey string) (*core.SettlementAttempt, error) {
	return s.attempts.Get(ctx, paymentKey)
}

func failure(req *core.PaymentRequirements, reason, message string) *core.SettlementResult {
	return &core.SettlementResult{
		Network:      req.Network,
		ErrorReason:  reason,
		ErrorMessage: message,
	}
}

func errIsNotFound(err error) bool {
	return errors.Is(err, core.ErrAttemptNotFound)
}
