package core

import "time"

// AttemptState is the lifecycle state of a settlement attempt.
type AttemptState string

const (
	// AttemptPending means the attempt is in flight or was interrupted.
	AttemptPending AttemptState = "pending"
	// AttemptCommitted means the settlement landed and the token is committed.
	AttemptCommitted AttemptState = "committed"
	// AttemptFailed means the settlement failed permanently.
	AttemptFailed AttemptState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s AttemptState) Terminal() bool {
	return s == AttemptCommitted || s == AttemptFailed
}

// SettlementAttempt is the persisted record of one logical payment attempt.
// Created on the first Settle call for a key, mutated only by the coordinator
// holding that key's lock, and transitions exactly once to a terminal state.
type SettlementAttempt struct {
	ID          string       `json:"id"`
	PaymentKey  string       `json:"paymentKey"`
	State       AttemptState `json:"state"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payer       string       `json:"payer,omitempty"`
	TxRef       string       `json:"txRef,omitempty"`
	ReplayToken string       `json:"replayToken"`
	FailReason  string       `json:"failReason,omitempty"`
	LastError   string       `json:"lastError,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Result converts a terminal or pending attempt into the wire-level outcome
// observed by every caller sharing its payment key.
func (a *SettlementAttempt) Result() *SettlementResult {
	switch a.State {
	case AttemptCommitted:
		return &SettlementResult{
			Success:     true,
			Transaction: a.TxRef,
			Network:     a.Network,
			Payer:       a.Payer,
		}
	case AttemptFailed:
		return &SettlementResult{
			Network:      a.Network,
			Payer:        a.Payer,
			ErrorReason:  a.FailReason,
			ErrorMessage: a.LastError,
		}
	default:
		return &SettlementResult{
			Pending:      true,
			Network:      a.Network,
			Transaction:  a.TxRef,
			ErrorReason:  ReasonTransientFailure,
			ErrorMessage: a.LastError,
		}
	}
}

// IdempotencyRecord binds a client-supplied payment identifier to the payment
// key and payload fingerprint it was first seen with.
type IdempotencyRecord struct {
	PaymentKey  string    `json:"paymentKey"`
	PayloadHash string    `json:"payloadHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FeeQuote is a signed advisory quote a client may commit to when picking a
// route. Validation is signature plus expiry only; consumption is recorded at
// settlement time and never blocks settlement when omitted.
type FeeQuote struct {
	QuoteID   string    `json:"quoteId"`
	Scheme    string    `json:"scheme"`
	Network   string    `json:"network"`
	Asset     string    `json:"asset"`
	FeeAmount string    `json:"feeAmount"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SettlementEvent is published after an attempt reaches a terminal state so
// other facilitator instances and resource servers can observe the outcome.
type SettlementEvent struct {
	PaymentKey string `json:"payment_key"`
	State      string `json:"state"`
	Scheme     string `json:"scheme"`
	Network    string `json:"network"`
	Payer      string `json:"payer,omitempty"`
	TxRef      string `json:"tx_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
