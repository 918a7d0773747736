package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const defaultTransferGasLimit = 100_000

// Wallet signs and submits ERC-20 transfers from a single custodial key. All
// transfers share one nonce sequence, so submissions are serialised behind a
// mutex; callers must not assume two concurrent Transfer calls interleave.
type Wallet struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64

	mu      sync.Mutex
	chainID *big.Int
}

// WalletOption customises the wallet instance.
type WalletOption func(*Wallet)

// WithGasLimit overrides the gas limit attached to transfer transactions.
func WithGasLimit(limit uint64) WalletOption {
	return func(w *Wallet) {
		if limit > 0 {
			w.gasLimit = limit
		}
	}
}

// NewWallet constructs a signing wallet from a hex-encoded private key.
func NewWallet(backend Backend, hexKey string, opts ...WalletOption) (*Wallet, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain: backend required")
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse signer key: %w", err)
	}
	w := &Wallet{
		backend:  backend,
		key:      key,
		from:     gethcrypto.PubkeyToAddress(key.PublicKey),
		gasLimit: defaultTransferGasLimit,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Address returns the wallet's funding address.
func (w *Wallet) Address() common.Address {
	return w.from
}

// Transfer submits a signed ERC-20 transfer and returns its transaction hash.
// The call returns once the transaction is accepted by the node; it does not
// wait for confirmation.
func (w *Wallet) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (string, error) {
	if w == nil || w.backend == nil {
		return "", fmt.Errorf("chain: wallet not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return "", fmt.Errorf("chain: transfer amount required")
	}
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return "", fmt.Errorf("chain: pack transfer: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.chainID == nil {
		chainID, err := w.backend.ChainID(ctx)
		if err != nil {
			return "", fmt.Errorf("chain: fetch chain id: %w", err)
		}
		w.chainID = chainID
	}
	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return "", fmt.Errorf("chain: fetch nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: fetch gas price: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Gas:      w.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign transfer: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send transfer: %w", err)
	}
	return signed.Hash().Hex(), nil
}
