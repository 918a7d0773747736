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

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// ERC20 is a typed read binding for a single token contract.
type ERC20 struct {
	backend Backend
	token   common.Address
}

// NewERC20 constructs a binding for the provided token address.
func NewERC20(backend Backend, token common.Address) *ERC20 {
	return &ERC20{backend: backend, token: token}
}

// Address returns the bound token contract address.
func (e *ERC20) Address() common.Address {
	return e.token
}

// BalanceOf reads the token balance held by the provided account.
func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	if e == nil || e.backend == nil {
		return nil, fmt.Errorf("chain: erc20 binding not initialised")
	}
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	raw, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call balanceOf: %w", err)
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("chain: decode balanceOf: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: balanceOf returned %d values", len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: balanceOf returned unexpected type %T", out[0])
	}
	return balance, nil
}
