package verify

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const (
	testToken  = "0x1000000000000000000000000000000000000001"
	testEscrow = "0x2000000000000000000000000000000000000002"
	testPayer  = "0x3000000000000000000000000000000000000003"
	testOther  = "0x4000000000000000000000000000000000000004"
	testHash   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type fakeSource struct {
	tx         *gethtypes.Transaction
	pending    bool
	txErr      error
	receipt    *gethtypes.Receipt
	receiptErr error
	txCalls    int
}

func (f *fakeSource) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	f.txCalls++
	return f.tx, f.pending, f.txErr
}

func (f *fakeSource) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return f.receipt, f.receiptErr
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32))
}

func transferLog(token, from, to string, value *big.Int) *gethtypes.Log {
	return &gethtypes.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			transferEventSignature,
			addressTopic(from),
			addressTopic(to),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

func testClaim(amount string, decimals int32) Claim {
	return Claim{
		TxHash:        testHash,
		EscrowAddress: testEscrow,
		TokenAddress:  testToken,
		Amount:        decimal.RequireFromString(amount),
		Decimals:      decimals,
	}
}

func emptyTx() *gethtypes.Transaction {
	to := common.HexToAddress(testToken)
	return gethtypes.NewTx(&gethtypes.LegacyTx{To: &to})
}

func TestVerifySuccess(t *testing.T) {
	source := &fakeSource{
		tx: emptyTx(),
		receipt: &gethtypes.Receipt{
			Status:      gethtypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(123456),
			Logs: []*gethtypes.Log{
				transferLog(testToken, testPayer, testEscrow, big.NewInt(5_000_000)),
			},
		},
	}
	verifier := NewVerifier(source)

	payment, failure := verifier.Verify(context.Background(), testClaim("5.0", 6))
	if failure != nil {
		t.Fatalf("expected success, got %v", failure)
	}
	if payment.PayerAddress != testPayer {
		t.Fatalf("expected payer %s got %s", testPayer, payment.PayerAddress)
	}
	if payment.RawValue.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("expected raw value 5000000 got %s", payment.RawValue)
	}
	if payment.BlockNumber != 123456 {
		t.Fatalf("expected block 123456 got %d", payment.BlockNumber)
	}
	if payment.MatchCount != 1 {
		t.Fatalf("expected 1 match got %d", payment.MatchCount)
	}
}

func TestVerifyPayerComesFromLogNotSender(t *testing.T) {
	// The paymaster relays the transaction; the Transfer log names the real
	// payer and that is what refunds must trust.
	source := &fakeSource{
		tx: emptyTx(),
		receipt: &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			Logs: []*gethtypes.Log{
				transferLog(testToken, testPayer, testEscrow, big.NewInt(1_000_000)),
			},
		},
	}
	payment, failure := NewVerifier(source).Verify(context.Background(), testClaim("1", 6))
	if failure != nil {
		t.Fatalf("expected success, got %v", failure)
	}
	if payment.PayerAddress != testPayer {
		t.Fatalf("payer must come from the transfer log, got %s", payment.PayerAddress)
	}
}

func TestVerifyNotFound(t *testing.T) {
	source := &fakeSource{txErr: ethereum.NotFound}
	_, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure == nil || failure.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", failure)
	}
}

func TestVerifyPendingTransaction(t *testing.T) {
	source := &fakeSource{tx: emptyTx(), pending: true}
	_, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure == nil || failure.Code != CodePending {
		t.Fatalf("expected PENDING, got %v", failure)
	}
}

func TestVerifyReceiptNotYetAvailable(t *testing.T) {
	source := &fakeSource{tx: emptyTx(), receiptErr: ethereum.NotFound}
	_, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure == nil || failure.Code != CodePending {
		t.Fatalf("expected PENDING for missing receipt, got %v", failure)
	}
}

func TestVerifyRPCError(t *testing.T) {
	source := &fakeSource{txErr: errors.New("connection reset")}
	_, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure == nil || failure.Code != CodeRPCError {
		t.Fatalf("expected RPC_ERROR, got %v", failure)
	}
	if !strings.Contains(failure.Message, "connection reset") {
		t.Fatalf("expected underlying message in failure, got %q", failure.Message)
	}
}

func TestVerifyReverted(t *testing.T) {
	source := &fakeSource{
		tx: emptyTx(),
		receipt: &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusFailed,
			Logs: []*gethtypes.Log{
				transferLog(testToken, testPayer, testEscrow, big.NewInt(5_000_000)),
			},
		},
	}
	_, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure == nil || failure.Code != CodeTxReverted {
		t.Fatalf("expected TX_REVERTED regardless of log contents, got %v", failure)
	}
	if failure.Diagnostics.ReceiptStatus != gethtypes.ReceiptStatusFailed {
		t.Fatalf("expected raw status in diagnostics")
	}
}

func TestVerifyNoMatchingTransferDiagnostics(t *testing.T) {
	source := &fakeSource{
		tx: emptyTx(),
		receipt: &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			Logs: []*gethtypes.Log{
				// Right escrow, wrong amount.
				transferLog(testToken, testPayer, testEscrow, big.NewInt(4_999_999)),
				// Right amount, wrong destination.
				transferLog(testToken, testPayer, testOther, big.NewInt(5_000_000)),
				// Wrong token entirely; must not be decoded.
				transferLog(testOther, testPayer, testEscrow, big.NewInt(5_000_000)),
			},
		},
	}
	_, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure == nil || failure.Code != CodeNoMatchingTransfer {
		t.Fatalf("expected NO_MATCHING_TRANSFER, got %v", failure)
	}
	diag := failure.Diagnostics
	if diag.ParsedTransferCount != 2 {
		t.Fatalf("expected 2 parsed transfers, got %d", diag.ParsedTransferCount)
	}
	if diag.MatchingTransferCount != 0 {
		t.Fatalf("expected 0 matches, got %d", diag.MatchingTransferCount)
	}
	if len(diag.ObservedTransfers) != 2 {
		t.Fatalf("expected 2 observed transfers, got %d", len(diag.ObservedTransfers))
	}
	if diag.ExpectedAmountRaw != "5000000" {
		t.Fatalf("expected raw amount 5000000, got %s", diag.ExpectedAmountRaw)
	}
}

func TestVerifyObservedTransfersCapped(t *testing.T) {
	logs := make([]*gethtypes.Log, 0, 15)
	for i := 0; i < 15; i++ {
		logs = append(logs, transferLog(testToken, testPayer, testOther, big.NewInt(int64(i+1))))
	}
	source := &fakeSource{
		tx:      emptyTx(),
		receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, Logs: logs},
	}
	_, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure == nil || failure.Code != CodeNoMatchingTransfer {
		t.Fatalf("expected NO_MATCHING_TRANSFER, got %v", failure)
	}
	if len(failure.Diagnostics.ObservedTransfers) != maxObservedTransfers {
		t.Fatalf("expected observed transfers capped at %d, got %d", maxObservedTransfers, len(failure.Diagnostics.ObservedTransfers))
	}
	if failure.Diagnostics.ParsedTransferCount != 15 {
		t.Fatalf("expected all 15 transfers counted, got %d", failure.Diagnostics.ParsedTransferCount)
	}
}

func TestVerifyMultipleMatchesFirstWins(t *testing.T) {
	source := &fakeSource{
		tx: emptyTx(),
		receipt: &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			Logs: []*gethtypes.Log{
				transferLog(testToken, testPayer, testEscrow, big.NewInt(5_000_000)),
				transferLog(testToken, testOther, testEscrow, big.NewInt(5_000_000)),
			},
		},
	}
	payment, failure := NewVerifier(source).Verify(context.Background(), testClaim("5", 6))
	if failure != nil {
		t.Fatalf("expected success, got %v", failure)
	}
	if payment.PayerAddress != testPayer {
		t.Fatalf("expected first match's payer, got %s", payment.PayerAddress)
	}
	if payment.MatchCount != 2 {
		t.Fatalf("expected match count 2, got %d", payment.MatchCount)
	}
}

func TestVerifyEscrowMatchIsCaseInsensitive(t *testing.T) {
	claim := testClaim("5", 6)
	claim.EscrowAddress = strings.ToUpper(strings.TrimPrefix(testEscrow, "0x"))
	claim.EscrowAddress = "0x" + claim.EscrowAddress
	source := &fakeSource{
		tx: emptyTx(),
		receipt: &gethtypes.Receipt{
			Status: gethtypes.ReceiptStatusSuccessful,
			Logs: []*gethtypes.Log{
				transferLog(testToken, testPayer, testEscrow, big.NewInt(5_000_000)),
			},
		},
	}
	payment, failure := NewVerifier(source).Verify(context.Background(), claim)
	if failure != nil {
		t.Fatalf("expected case-insensitive escrow match, got %v", failure)
	}
	if payment.PayerAddress != testPayer {
		t.Fatalf("unexpected payer %s", payment.PayerAddress)
	}
}

func TestAmountToRaw(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{amount: "5.0", decimals: 6, want: "5000000"},
		{amount: "0.000001", decimals: 6, want: "1"},
		{amount: "1.5", decimals: 18, want: "1500000000000000000"},
		{amount: "0", decimals: 6, want: "0"},
		{amount: "0.0000001", decimals: 6, wantErr: true},
		{amount: "-1", decimals: 6, wantErr: true},
	}
	for _, tc := range cases {
		raw, err := AmountToRaw(decimal.RequireFromString(tc.amount), tc.decimals)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("amount %s decimals %d: expected error", tc.amount, tc.decimals)
			}
			continue
		}
		if err != nil {
			t.Fatalf("amount %s decimals %d: %v", tc.amount, tc.decimals, err)
		}
		if raw.String() != tc.want {
			t.Fatalf("amount %s decimals %d: expected %s got %s", tc.amount, tc.decimals, tc.want, raw)
		}
	}
}

func TestVerifyUnrepresentableAmountRejectedWithoutChainRead(t *testing.T) {
	source := &fakeSource{tx: emptyTx()}
	verifier := NewVerifier(source)

	_, failure := verifier.Verify(context.Background(), testClaim("0.0000001", 6))
	if failure == nil || failure.Code != CodeInvalidAmount {
		t.Fatalf("expected INVALID_AMOUNT, got %v", failure)
	}
	if source.txCalls != 0 {
		t.Fatalf("amount validation must reject before any RPC call, got %d", source.txCalls)
	}
}
