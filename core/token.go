package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ReplayToken is the generalized consume-once unit: an EIP-3009 (from, nonce)
// pair, a Permit2 nonce, a transaction identity, a ZK nullifier hash. The value
// is opaque to the core and scoped by (scheme, network) so tokens from
// different chains never collide.
type ReplayToken struct {
	Scheme  string
	Network string
	Value   string
}

// Scoped returns the fully qualified token key.
func (t ReplayToken) Scoped() string {
	return t.Scheme + "|" + t.Network + "|" + t.Value
}

// QuoteToken scopes a fee quote identifier so consumed quotes share the replay
// guard without colliding with payment authorizations.
func QuoteToken(quoteID string) ReplayToken {
	return ReplayToken{Scheme: "quote", Network: "quote", Value: quoteID}
}

// DerivePaymentKey computes the logical identity of one payment attempt.
// It is deterministic over the fields that define the payment, so retries of
// the same submission always land on the same key.
func DerivePaymentKey(req *PaymentRequirements, token ReplayToken, idempotencyID string) string {
	h := sha256.New()
	for _, part := range []string{req.Scheme, req.Network, req.PayTo, req.Amount, token.Value, idempotencyID} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashPayload fingerprints a raw payload for idempotency conflict detection.
// Two binds of the same idempotency id must carry the same payload bytes.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidPaymentKey reports whether s looks like a key produced by
// DerivePaymentKey. Used by the transport layer to reject junk lookups early.
func ValidPaymentKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) == -1
}
