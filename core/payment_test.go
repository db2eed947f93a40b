package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequirementsValidate(t *testing.T) {
	valid := baseRequirements()
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*PaymentRequirements)
	}{
		{"missing scheme", func(r *PaymentRequirements) { r.Scheme = "" }},
		{"missing network", func(r *PaymentRequirements) { r.Network = "" }},
		{"missing payTo", func(r *PaymentRequirements) { r.PayTo = "" }},
		{"non-decimal amount", func(r *PaymentRequirements) { r.Amount = "1,00" }},
		{"zero amount", func(r *PaymentRequirements) { r.Amount = "0" }},
		{"negative amount", func(r *PaymentRequirements) { r.Amount = "-5" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequirements()
			tt.mutate(req)
			assert.ErrorIs(t, req.Validate(), ErrInvalidRequirements)
		})
	}
}

func TestRequirementsExpired(t *testing.T) {
	req := baseRequirements()
	assert.False(t, req.Expired(time.Now()))

	future := time.Now().Add(time.Minute)
	req.ValidUntil = &future
	assert.False(t, req.Expired(time.Now()))
	assert.True(t, req.Expired(future.Add(time.Second)))
}

func TestPayloadIdempotencyID(t *testing.T) {
	payload := &PaymentPayload{}
	assert.Empty(t, payload.IdempotencyID())

	payload.Extensions = map[string]json.RawMessage{
		PaymentIdentifierExtension: json.RawMessage(`{"id":"pay_abc"}`),
	}
	assert.Equal(t, "pay_abc", payload.IdempotencyID())

	payload.Extensions[PaymentIdentifierExtension] = json.RawMessage(`not-json`)
	assert.Empty(t, payload.IdempotencyID())
}

func TestPayloadFeeQuoteToken(t *testing.T) {
	payload := &PaymentPayload{}
	assert.Empty(t, payload.FeeQuoteToken())

	payload.Extensions = map[string]json.RawMessage{
		FacilitatorFeesExtension: json.RawMessage(`{"quote":"signed.quote.token"}`),
	}
	assert.Equal(t, "signed.quote.token", payload.FeeQuoteToken())
}

func TestAttemptResult(t *testing.T) {
	attempt := &SettlementAttempt{
		PaymentKey: "k",
		State:      AttemptCommitted,
		Network:    "eip155:8453",
		Payer:      "0xPayer",
		TxRef:      "0xtx",
	}
	result := attempt.Result()
	assert.True(t, result.Success)
	assert.Equal(t, "0xtx", result.Transaction)

	attempt.State = AttemptFailed
	attempt.FailReason = ReasonPermanentFailure
	result = attempt.Result()
	assert.False(t, result.Success)
	assert.False(t, result.Pending)
	assert.Equal(t, ReasonPermanentFailure, result.ErrorReason)

	attempt.State = AttemptPending
	result = attempt.Result()
	assert.False(t, result.Success)
	assert.True(t, result.Pending)
	assert.Equal(t, ReasonTransientFailure, result.ErrorReason)
}

func TestAttemptStateTerminal(t *testing.T) {
	assert.False(t, AttemptPending.Terminal())
	assert.True(t, AttemptCommitted.Terminal())
	assert.True(t, AttemptFailed.Terminal())
}
