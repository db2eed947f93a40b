// Package evmexact implements the x402 "exact" scheme for EVM networks using
// EIP-3009 transferWithAuthorization payloads.
package evmexact

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Authorization mirrors the EIP-3009 TransferWithAuthorization message as it
// appears on the wire. Numeric fields are decimal strings, the nonce is a
// 0x-prefixed 32-byte hex string.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the scheme-specific blob inside an x402 payment payload.
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// TransferAuthorization is the decoded form used for hashing and broadcast.
type TransferAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

func parsePayload(raw json.RawMessage) (*Payload, *TransferAuthorization, []byte, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, nil, fmt.Errorf("malformed exact payload: %w", err)
	}

	auth := payload.Authorization
	parsed := &TransferAuthorization{}

	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return nil, nil, nil, fmt.Errorf("authorization addresses are invalid")
	}
	parsed.From = common.HexToAddress(auth.From)
	parsed.To = common.HexToAddress(auth.To)

	var ok bool
	if parsed.Value, ok = new(big.Int).SetString(auth.Value, 10); !ok || parsed.Value.Sign() < 0 {
		return nil, nil, nil, fmt.Errorf("authorization value %q is invalid", auth.Value)
	}
	if parsed.ValidAfter, ok = new(big.Int).SetString(auth.ValidAfter, 10); !ok {
		return nil, nil, nil, fmt.Errorf("validAfter %q is invalid", auth.ValidAfter)
	}
	if parsed.ValidBefore, ok = new(big.Int).SetString(auth.ValidBefore, 10); !ok {
		return nil, nil, nil, fmt.Errorf("validBefore %q is invalid", auth.ValidBefore)
	}

	nonce, err := hexutil.Decode(auth.Nonce)
	if err != nil || len(nonce) != 32 {
		return nil, nil, nil, fmt.Errorf("nonce must be 32 bytes of hex")
	}
	copy(parsed.Nonce[:], nonce)

	signature, err := hexutil.Decode(payload.Signature)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(signature) != 65 {
		return nil, nil, nil, fmt.Errorf("signature must be 65 bytes")
	}

	return &payload, parsed, signature, nil
}

// chainID extracts the numeric chain id from a CAIP-2 identifier such as
// "eip155:8453".
func chainID(network string) (*big.Int, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return nil, fmt.Errorf("network %q is not an eip155 identifier", network)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("network %q has a non-numeric chain id", network)
	}
	return big.NewInt(id), nil
}

// domainParams reads the EIP-712 domain name and version for the asset from
// the requirements extra, falling back to the Circle USDC domain.
func domainParams(extra map[string]interface{}) (name, version string) {
	name, version = "USD Coin", "2"
	if extra == nil {
		return name, version
	}
	if v, ok := extra["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := extra["version"].(string); ok && v != "" {
		version = v
	}
	return name, version
}
