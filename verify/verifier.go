package verify

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var transferEventSignature = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// maxObservedTransfers caps how many decoded transfers are attached to a
// NO_MATCHING_TRANSFER failure for support diagnostics.
const maxObservedTransfers = 10

// ReceiptSource defines the subset of the Ethereum RPC used by the verifier.
type ReceiptSource interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
}

// Claim describes a payment a participant says they made: the transaction
// hash plus the escrow, token, and amount the contest expects.
type Claim struct {
	TxHash        string
	EscrowAddress string
	TokenAddress  string
	Amount        decimal.Decimal
	Decimals      int32
}

// VerifiedPayment is the authoritative result of a successful verification.
// PayerAddress comes from the matching Transfer log's from field, not from the
// transaction's outer sender, so relayed and sponsored transactions credit the
// actual payer.
type VerifiedPayment struct {
	PayerAddress  string
	EscrowAddress string
	RawValue      *big.Int
	BlockNumber   uint64
	ReceiptStatus uint64
	MatchCount    int
}

// Verifier checks claimed entry-fee payments against the chain.
type Verifier struct {
	client ReceiptSource
}

// NewVerifier constructs a verifier over the provided receipt source.
func NewVerifier(client ReceiptSource) *Verifier {
	return &Verifier{client: client}
}

// AmountToRaw converts a human decimal amount into the token's smallest
// integer unit. The conversion is exact; amounts with more fractional digits
// than the token supports are rejected rather than rounded.
func AmountToRaw(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("verify: amount must not be negative")
	}
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("verify: amount %s exceeds %d decimal precision", amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// Verify inspects the claimed transaction and returns either the verified
// payment or a typed failure. Exactly one of the two return values is non-nil;
// failures are results, not errors, so callers branch without recover
// ceremony.
func (v *Verifier) Verify(ctx context.Context, claim Claim) (*VerifiedPayment, *Failure) {
	if v == nil || v.client == nil {
		return nil, newFailure(CodeRPCError, "verifier not initialised", Diagnostics{})
	}
	hash := strings.TrimSpace(claim.TxHash)
	if hash == "" {
		return nil, newFailure(CodeNotFound, "transaction hash required", Diagnostics{})
	}
	token := strings.ToLower(strings.TrimSpace(claim.TokenAddress))
	escrow := strings.ToLower(strings.TrimSpace(claim.EscrowAddress))
	expectedRaw, err := AmountToRaw(claim.Amount, claim.Decimals)
	if err != nil {
		return nil, newFailure(CodeInvalidAmount, err.Error(), Diagnostics{
			ExpectedEscrowAddress: escrow,
			ExpectedTokenAddress:  token,
		})
	}

	diag := Diagnostics{
		ExpectedAmountRaw:     expectedRaw.String(),
		ExpectedEscrowAddress: escrow,
		ExpectedTokenAddress:  token,
	}

	txHash := common.HexToHash(hash)
	tx, pending, err := v.client.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, newFailure(CodeNotFound, fmt.Sprintf("transaction %s not found", hash), diag)
		}
		return nil, newFailure(CodeRPCError, fmt.Sprintf("fetch transaction: %v", err), diag)
	}
	if tx != nil {
		if to := tx.To(); to != nil {
			diag.TxTo = strings.ToLower(to.Hex())
		}
		if from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
			diag.TxFrom = strings.ToLower(from.Hex())
		}
	}
	if pending {
		return nil, newFailure(CodePending, fmt.Sprintf("transaction %s is still pending", hash), diag)
	}

	receipt, err := v.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, newFailure(CodePending, fmt.Sprintf("receipt for %s not yet available", hash), diag)
		}
		return nil, newFailure(CodeRPCError, fmt.Sprintf("fetch receipt: %v", err), diag)
	}
	if receipt == nil {
		return nil, newFailure(CodePending, fmt.Sprintf("receipt for %s not yet available", hash), diag)
	}
	diag.ReceiptStatus = receipt.Status
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, newFailure(CodeTxReverted, fmt.Sprintf("transaction %s reverted (status %d)", hash, receipt.Status), diag)
	}

	var (
		payer      string
		matchCount int
	)
	for _, entry := range receipt.Logs {
		if entry == nil {
			continue
		}
		if !strings.EqualFold(entry.Address.Hex(), token) {
			continue
		}
		if len(entry.Topics) < 3 || entry.Topics[0] != transferEventSignature {
			continue
		}
		from := strings.ToLower(common.BytesToAddress(entry.Topics[1].Bytes()).Hex())
		to := strings.ToLower(common.BytesToAddress(entry.Topics[2].Bytes()).Hex())
		value := new(big.Int).SetBytes(entry.Data)

		diag.ParsedTransferCount++
		if len(diag.ObservedTransfers) < maxObservedTransfers {
			diag.ObservedTransfers = append(diag.ObservedTransfers, ObservedTransfer{
				From:  from,
				To:    to,
				Value: value.String(),
			})
		}
		if to != escrow || value.Cmp(expectedRaw) != 0 {
			continue
		}
		matchCount++
		if payer == "" {
			payer = from
		}
	}
	diag.MatchingTransferCount = matchCount
	if matchCount == 0 {
		return nil, newFailure(CodeNoMatchingTransfer,
			fmt.Sprintf("no transfer of %s to %s found in %s", expectedRaw.String(), escrow, hash), diag)
	}

	var blockNumber uint64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}
	return &VerifiedPayment{
		PayerAddress:  payer,
		EscrowAddress: escrow,
		RawValue:      new(big.Int).Set(expectedRaw),
		BlockNumber:   blockNumber,
		ReceiptStatus: receipt.Status,
		MatchCount:    matchCount,
	}, nil
}
