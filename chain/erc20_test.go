package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

type callBackend struct {
	lastCall ethereum.CallMsg
	response []byte
	err      error
}

func (b *callBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (b *callBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return nil, ethereum.NotFound
}

func (b *callBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.lastCall = call
	return b.response, b.err
}

func (b *callBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (b *callBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *callBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *callBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	return nil
}

func uint256Response(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func TestERC20BalanceOf(t *testing.T) {
	backend := &callBackend{response: uint256Response(123_456)}
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	holder := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	balance, err := NewERC20(backend, token).BalanceOf(context.Background(), holder)
	if err != nil {
		t.Fatalf("balanceOf: %v", err)
	}
	if balance.Cmp(big.NewInt(123_456)) != 0 {
		t.Fatalf("expected 123456, got %s", balance)
	}
	if backend.lastCall.To == nil || *backend.lastCall.To != token {
		t.Fatalf("call must target the token contract")
	}
	// balanceOf(address) selector.
	if len(backend.lastCall.Data) != 36 || common.Bytes2Hex(backend.lastCall.Data[:4]) != "70a08231" {
		t.Fatalf("unexpected calldata %x", backend.lastCall.Data)
	}
}

func TestStakeReaderUsesConfiguredMethod(t *testing.T) {
	backend := &callBackend{response: uint256Response(777)}
	contract := common.HexToAddress("0x0000000000000000000000000000000000000057")
	account := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	reader, err := NewStakeReader(backend, contract, "stakedBalanceOf")
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	balance, err := reader.StakedBalance(context.Background(), account)
	if err != nil {
		t.Fatalf("stakedBalance: %v", err)
	}
	if balance.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("expected 777, got %s", balance)
	}
	if backend.lastCall.To == nil || *backend.lastCall.To != contract {
		t.Fatalf("call must target the staking contract")
	}

	// The default method keeps a different selector.
	defaultReader, err := NewStakeReader(backend, contract, "balanceOf")
	if err != nil {
		t.Fatalf("default reader: %v", err)
	}
	if _, err := defaultReader.StakedBalance(context.Background(), account); err != nil {
		t.Fatalf("default stakedBalance: %v", err)
	}
	if common.Bytes2Hex(backend.lastCall.Data[:4]) != "70a08231" {
		t.Fatalf("expected balanceOf selector, got %x", backend.lastCall.Data[:4])
	}
}

func TestStakeReaderRequiresMethod(t *testing.T) {
	backend := &callBackend{}
	if _, err := NewStakeReader(backend, common.Address{}, "  "); err == nil {
		t.Fatalf("expected error for empty method name")
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("  0x00000000000000000000000000000000000000AA ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr != common.HexToAddress("0x00000000000000000000000000000000000000aa") {
		t.Fatalf("unexpected address %s", addr)
	}
	if _, err := ParseAddress("not-an-address"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
	if _, err := ParseAddress(""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
