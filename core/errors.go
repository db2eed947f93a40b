package core

import "errors"

var (
	ErrInvalidRequirements  = errors.New("invalid payment requirements")
	ErrEnvelopeMismatch     = errors.New("payload envelope does not match requirements")
	ErrExpired              = errors.New("payment requirements have expired")
	ErrUnsupportedScheme    = errors.New("unsupported scheme or network")
	ErrVerificationFailed   = errors.New("adapter verification failed")
	ErrAlreadySettled       = errors.New("authorization already settled")
	ErrAlreadyClaimed       = errors.New("authorization claimed by another payment")
	ErrTransientSettlement  = errors.New("transient settlement failure")
	ErrPermanentSettlement  = errors.New("permanent settlement failure")
	ErrIdempotencyConflict  = errors.New("idempotency key bound to a different payload")
	ErrAttemptNotFound      = errors.New("settlement attempt not found")
	ErrSchemeRegistered     = errors.New("scheme and network already registered")
	ErrInvalidQuote         = errors.New("invalid fee quote")
	ErrQuoteExpired         = errors.New("fee quote has expired")
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// Machine-readable reason codes carried on wire results.
const (
	ReasonEnvelopeMismatch    = "envelope_mismatch"
	ReasonExpired             = "expired"
	ReasonUnsupportedScheme   = "unsupported_scheme_network"
	ReasonVerificationFailed  = "adapter_verification_failed"
	ReasonAlreadySettled      = "already_settled"
	ReasonAlreadyClaimed      = "already_claimed_elsewhere"
	ReasonTransientFailure    = "transient_settlement_failure"
	ReasonPermanentFailure    = "permanent_settlement_failure"
	ReasonIdempotencyConflict = "idempotency_conflict"
)
