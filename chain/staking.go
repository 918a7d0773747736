package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// StakeReader reads per-address staked balances from a staking contract. The
// read function name is configurable per community token; the signature is
// assumed to be name(address) returns (uint256).
type StakeReader struct {
	backend  Backend
	contract common.Address
	method   string
	abi      abi.ABI
}

// NewStakeReader builds a reader for the provided staking contract and view
// function name.
func NewStakeReader(backend Backend, contract common.Address, method string) (*StakeReader, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain: backend required")
	}
	trimmed := strings.TrimSpace(method)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: staking read function required")
	}
	raw := fmt.Sprintf(`[{"name":%q,"type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`, trimmed)
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("chain: build staking abi: %w", err)
	}
	return &StakeReader{backend: backend, contract: contract, method: trimmed, abi: parsed}, nil
}

// StakedBalance returns the staked amount for the provided account.
func (r *StakeReader) StakedBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if r == nil || r.backend == nil {
		return nil, fmt.Errorf("chain: stake reader not initialised")
	}
	data, err := r.abi.Pack(r.method, account)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", r.method, err)
	}
	raw, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", r.method, err)
	}
	out, err := r.abi.Unpack(r.method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: decode %s: %w", r.method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: %s returned %d values", r.method, len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s returned unexpected type %T", r.method, out[0])
	}
	return balance, nil
}
