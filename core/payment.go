package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// X402Version is the protocol version this engine speaks.
const X402Version = 2

// PaymentIdentifierExtension is the extension key carrying a client-supplied
// idempotency identifier.
const PaymentIdentifierExtension = "payment-identifier"

// FacilitatorFeesExtension is the extension key carrying a signed fee quote token.
const FacilitatorFeesExtension = "facilitatorFees"

// PaymentRequirements describes the payment a resource server demands.
// Immutable once issued; every payload is validated against it as ground truth.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"` // CAIP-2, e.g. "eip155:8453"
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	Amount            string                 `json:"amount"` // exact atomic units, decimal string
	MaxTimeoutSeconds int64                  `json:"maxTimeoutSeconds,omitempty"`
	ValidUntil        *time.Time             `json:"validUntil,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"` // opaque to the core
}

// Validate checks the fields the core itself interprets.
func (r *PaymentRequirements) Validate() error {
	if r.Scheme == "" || r.Network == "" {
		return fmt.Errorf("scheme and network are required: %w", ErrInvalidRequirements)
	}
	if r.PayTo == "" {
		return fmt.Errorf("payTo is required: %w", ErrInvalidRequirements)
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return fmt.Errorf("amount %q is not a decimal: %w", r.Amount, ErrInvalidRequirements)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidRequirements)
	}
	return nil
}

// Expired reports whether the requirements carry an expiry that has passed.
func (r *PaymentRequirements) Expired(now time.Time) bool {
	return r.ValidUntil != nil && now.After(*r.ValidUntil)
}

// PaymentPayload is the client-submitted proof of authorization. The core only
// interprets the envelope fields; Payload is understood by the matching adapter.
type PaymentPayload struct {
	X402Version int                        `json:"x402Version"`
	Scheme      string                     `json:"scheme"`
	Network     string                     `json:"network"`
	Payload     json.RawMessage            `json:"payload"`
	Extensions  map[string]json.RawMessage `json:"extensions,omitempty"`
}

// paymentIdentifier mirrors the payment-identifier extension body.
type paymentIdentifier struct {
	ID string `json:"id"`
}

// IdempotencyID returns the client-supplied idempotency identifier, or ""
// when the payment-identifier extension is absent or malformed.
func (p *PaymentPayload) IdempotencyID() string {
	raw, ok := p.Extensions[PaymentIdentifierExtension]
	if !ok {
		return ""
	}
	var ext paymentIdentifier
	if err := json.Unmarshal(raw, &ext); err != nil {
		return ""
	}
	return ext.ID
}

// feeQuoteExtension mirrors the facilitatorFees extension body.
type feeQuoteExtension struct {
	Quote string `json:"quote"`
}

// FeeQuoteToken returns the signed fee quote the client committed to, or ""
// when the facilitatorFees extension is absent or malformed.
func (p *PaymentPayload) FeeQuoteToken() string {
	raw, ok := p.Extensions[FacilitatorFeesExtension]
	if !ok {
		return ""
	}
	var ext feeQuoteExtension
	if err := json.Unmarshal(raw, &ext); err != nil {
		return ""
	}
	return ext.Quote
}

// SupportedKind is one (scheme, network) pair a facilitator can serve.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}
