package chain

import (
	"context"
	"fmt"
	"math/big"
)

// Treasury binds the custodial wallet to the payout token so callers can
// check available funds and move them without holding either primitive.
type Treasury struct {
	token  *ERC20
	wallet *Wallet
}

// NewTreasury constructs a treasury over the provided token and wallet.
func NewTreasury(token *ERC20, wallet *Wallet) (*Treasury, error) {
	if token == nil || wallet == nil {
		return nil, fmt.Errorf("chain: treasury requires token and wallet")
	}
	return &Treasury{token: token, wallet: wallet}, nil
}

// Balance returns the custodial wallet's balance of the payout token.
func (t *Treasury) Balance(ctx context.Context) (*big.Int, error) {
	return t.token.BalanceOf(ctx, t.wallet.Address())
}

// Transfer sends amount of the payout token to the destination address and
// returns the submitted transaction hash.
func (t *Treasury) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	dest, err := ParseAddress(to)
	if err != nil {
		return "", err
	}
	return t.wallet.Transfer(ctx, t.token.Address(), dest, amount)
}
