package evmexact

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

// Scheme is the x402 scheme identifier this adapter serves.
const Scheme = "exact"

// ErrRejected marks a broadcast failure that cannot succeed on retry, such as
// an authorization the token contract refuses.
var ErrRejected = errors.New("transaction rejected by chain")

// Broadcaster submits a signed transfer authorization to the chain and
// reports the state of previously submitted transactions.
type Broadcaster interface {
	Broadcast(ctx context.Context, asset common.Address, auth *TransferAuthorization, signature []byte) (string, error)
	Status(ctx context.Context, txRef string) (core.TxStatus, error)
}

// Adapter verifies and settles EIP-3009 transferWithAuthorization payments.
// A nil broadcaster yields a verify-only adapter.
type Adapter struct {
	broadcaster Broadcaster
	now         func() time.Time
}

var _ ports.SchemeAdapter = (*Adapter)(nil)

// NewAdapter creates an exact-scheme EVM adapter.
func NewAdapter(broadcaster Broadcaster) *Adapter {
	return &Adapter{broadcaster: broadcaster, now: time.Now}
}

// Verify checks the authorization signature, recipient, amount and validity
// window against the requirements. It never touches the chain.
func (a *Adapter) Verify(_ context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterVerification, error) {
	_, auth, signature, err := parsePayload(payload.Payload)
	if err != nil {
		return &core.AdapterVerification{Reason: err.Error()}, nil
	}

	if !common.IsHexAddress(req.Asset) {
		return nil, fmt.Errorf("asset %q is not an address: %w", req.Asset, core.ErrInvalidRequirements)
	}
	if !common.IsHexAddress(req.PayTo) {
		return nil, fmt.Errorf("payTo %q is not an address: %w", req.PayTo, core.ErrInvalidRequirements)
	}

	if auth.To != common.HexToAddress(req.PayTo) {
		return &core.AdapterVerification{Reason: "authorization recipient does not match payTo"}, nil
	}

	required, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not a decimal: %w", req.Amount, core.ErrInvalidRequirements)
	}
	if !decimal.NewFromBigInt(auth.Value, 0).Equal(required) {
		return &core.AdapterVerification{Reason: "authorization value does not match required amount"}, nil
	}

	// big.Int comparison throughout: the window bounds are attacker
	// supplied uint256 values and must never be truncated to int64.
	now := big.NewInt(a.now().Unix())
	if auth.ValidAfter.Cmp(now) >= 0 {
		return &core.AdapterVerification{Reason: "authorization is not yet valid"}, nil
	}
	if auth.ValidBefore.Cmp(now) <= 0 {
		return &core.AdapterVerification{Reason: "authorization validity window has closed"}, nil
	}

	chain, err := chainID(req.Network)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrInvalidRequirements)
	}

	name, version := domainParams(req.Extra)
	digest, err := authorizationDigest(common.HexToAddress(req.Asset), chain, auth, name, version)
	if err != nil {
		return nil, fmt.Errorf("failed to hash authorization: %w", err)
	}

	signer, err := recoverSigner(digest, signature)
	if err != nil {
		return &core.AdapterVerification{Reason: "signature does not recover to an address"}, nil
	}
	if signer != auth.From {
		return &core.AdapterVerification{Reason: "signature was not produced by the payer"}, nil
	}

	return &core.AdapterVerification{
		Valid:       true,
		Payer:       auth.From.Hex(),
		ReplayToken: replayToken(req, auth),
	}, nil
}

// Settle broadcasts the authorization through the configured broadcaster.
func (a *Adapter) Settle(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterSettlement, error) {
	if a.broadcaster == nil {
		return nil, fmt.Errorf("adapter is verify-only, no broadcaster configured")
	}

	_, auth, signature, err := parsePayload(payload.Payload)
	if err != nil {
		return &core.AdapterSettlement{PermanentFailure: true, Reason: err.Error()}, nil
	}

	txRef, err := a.broadcaster.Broadcast(ctx, common.HexToAddress(req.Asset), auth, signature)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return &core.AdapterSettlement{PermanentFailure: true, Reason: err.Error()}, nil
		}
		return nil, fmt.Errorf("broadcast failed: %w", err)
	}

	return &core.AdapterSettlement{TxRef: txRef}, nil
}

// Status reports the on-chain state of a previously broadcast settlement.
func (a *Adapter) Status(ctx context.Context, txRef string) (core.TxStatus, error) {
	if a.broadcaster == nil {
		return core.TxStatusUnknown, fmt.Errorf("adapter is verify-only, no broadcaster configured")
	}
	return a.broadcaster.Status(ctx, txRef)
}

// replayToken derives the deterministic replay identity of an authorization.
// EIP-3009 scopes nonces per payer, so (from, nonce) pins the on-chain replay
// domain exactly.
func replayToken(req *core.PaymentRequirements, auth *TransferAuthorization) core.ReplayToken {
	return core.ReplayToken{
		Scheme:  req.Scheme,
		Network: req.Network,
		Value:   strings.ToLower(auth.From.Hex()) + ":" + common.BytesToHash(auth.Nonce[:]).Hex(),
	}
}

// authorizationDigest computes the EIP-712 digest a wallet signs for a
// TransferWithAuthorization message.
func authorizationDigest(token common.Address, chain *big.Int, auth *TransferAuthorization, name, version string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chain),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// recoverSigner inverts an EIP-712 signature with a 27/28 recovery byte.
func recoverSigner(digest, signature []byte) (common.Address, error) {
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubkey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
