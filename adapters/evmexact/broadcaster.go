package evmexact

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/layer-3/ferryman/core"
)

const transferWithAuthorizationABI = `[{"type":"function","name":"transferWithAuthorization","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}]`

const broadcastGasLimit = 130_000

// EthBroadcaster submits transferWithAuthorization calls through an Ethereum
// JSON-RPC endpoint, paying gas from its own key.
type EthBroadcaster struct {
	client *ethclient.Client
	key    *ecdsa.PrivateKey
	sender common.Address
	abi    abi.ABI
}

var _ Broadcaster = (*EthBroadcaster)(nil)

// NewEthBroadcaster creates a broadcaster backed by the given RPC client.
func NewEthBroadcaster(client *ethclient.Client, key *ecdsa.PrivateKey) (*EthBroadcaster, error) {
	parsed, err := abi.JSON(strings.NewReader(transferWithAuthorizationABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transferWithAuthorization abi: %w", err)
	}
	return &EthBroadcaster{
		client: client,
		key:    key,
		sender: crypto.PubkeyToAddress(key.PublicKey),
		abi:    parsed,
	}, nil
}

// Broadcast packs and submits the authorization. An execution revert during
// gas estimation means the token contract refuses the authorization, which is
// reported as ErrRejected; everything else is a transient RPC error.
func (b *EthBroadcaster) Broadcast(ctx context.Context, asset common.Address, auth *TransferAuthorization, signature []byte) (string, error) {
	v := signature[64]
	if v < 27 {
		v += 27
	}
	var r, s [32]byte
	copy(r[:], signature[:32])
	copy(s[:], signature[32:64])

	data, err := b.abi.Pack("transferWithAuthorization",
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce, v, r, s)
	if err != nil {
		return "", fmt.Errorf("failed to pack calldata: %w", err)
	}

	if _, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: b.sender, To: &asset, Data: data}); err != nil {
		if strings.Contains(err.Error(), "revert") {
			return "", fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return "", fmt.Errorf("gas estimation failed: %w", err)
	}

	chainID, err := b.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read chain id: %w", err)
	}
	nonce, err := b.client.PendingNonceAt(ctx, b.sender)
	if err != nil {
		return "", fmt.Errorf("failed to read sender nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &asset,
		Value:    big.NewInt(0),
		Gas:      broadcastGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), b.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signed.Hash().Hex(), nil
}

// Status resolves a transaction hash to its chain state. A mined transaction
// that reverted left the authorization unspent, so it reports NotFound and the
// payment becomes eligible for a fresh broadcast.
func (b *EthBroadcaster) Status(ctx context.Context, txRef string) (core.TxStatus, error) {
	hash := common.HexToHash(txRef)

	receipt, err := b.client.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return core.TxStatusConfirmed, nil
		}
		return core.TxStatusNotFound, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return core.TxStatusUnknown, fmt.Errorf("failed to read receipt: %w", err)
	}

	_, pending, err := b.client.TransactionByHash(ctx, hash)
	if err == nil {
		if pending {
			return core.TxStatusPending, nil
		}
		// Mined but the receipt is not visible yet.
		return core.TxStatusPending, nil
	}
	if errors.Is(err, ethereum.NotFound) {
		return core.TxStatusNotFound, nil
	}
	return core.TxStatusUnknown, fmt.Errorf("failed to look up transaction: %w", err)
}
