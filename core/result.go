package core

// VerificationResult is the outcome of the verification pipeline. Produced
// fresh per call and never cached across payload mutations.
type VerificationResult struct {
	Valid          bool   `json:"isValid"`
	Payer          string `json:"payer,omitempty"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
}

// Invalid builds a failed verification result with a reason code.
func Invalid(reason, message string) *VerificationResult {
	return &VerificationResult{InvalidReason: reason, InvalidMessage: message}
}

// SettlementResult is the outcome of a settlement call. Pending is distinct
// from both success and failure: the attempt is still in flight and the same
// payment key may be retried.
type SettlementResult struct {
	Success      bool   `json:"success"`
	Pending      bool   `json:"pending,omitempty"`
	Transaction  string `json:"transaction,omitempty"`
	Network      string `json:"network,omitempty"`
	Payer        string `json:"payer,omitempty"`
	ErrorReason  string `json:"errorReason,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// AdapterVerification is what a scheme adapter reports from Verify. The
// replay token must be derived deterministically from payload contents.
type AdapterVerification struct {
	Valid       bool
	Payer       string
	Reason      string
	ReplayToken ReplayToken
}

// AdapterSettlement is what a scheme adapter reports from Settle.
// PermanentFailure is reserved for conditions that cannot change on retry;
// transient chain errors are returned as ordinary errors instead.
type AdapterSettlement struct {
	TxRef            string
	PermanentFailure bool
	Reason           string
}

// TxStatus is the authoritative on-chain state of a previously broadcast
// settlement, used when resuming a Pending attempt.
type TxStatus int

const (
	// TxStatusUnknown means the adapter could not determine the state.
	TxStatusUnknown TxStatus = iota
	// TxStatusPending means the transaction is broadcast but not final.
	TxStatusPending
	// TxStatusConfirmed means the transaction landed on-chain.
	TxStatusConfirmed
	// TxStatusNotFound means the chain has no record of the transaction.
	TxStatusNotFound
)
