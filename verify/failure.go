package verify

// Code classifies why a payment claim could not be verified.
type Code string

// Verification failure codes. NOT_FOUND and PENDING are distinct on purpose:
// a pending transaction is worth retrying, a missing one likely never existed.
const (
	CodeNotFound           Code = "NOT_FOUND"
	CodePending            Code = "PENDING"
	CodeTxReverted         Code = "TX_REVERTED"
	CodeNoMatchingTransfer Code = "NO_MATCHING_TRANSFER"
	CodeRPCError           Code = "RPC_ERROR"
	// INVALID_AMOUNT rejects the claim before any chain read: the expected
	// amount cannot be represented in the token's smallest unit.
	CodeInvalidAmount Code = "INVALID_AMOUNT"
)

// ObservedTransfer summarises one decoded Transfer log for diagnostics.
type ObservedTransfer struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// Diagnostics carries enough context for support staff to cross-reference a
// failed claim against a block explorer.
type Diagnostics struct {
	TxFrom                string             `json:"txFrom,omitempty"`
	TxTo                  string             `json:"txTo,omitempty"`
	ReceiptStatus         uint64             `json:"receiptStatus"`
	ObservedTransfers     []ObservedTransfer `json:"observedTransfers,omitempty"`
	ParsedTransferCount   int                `json:"parsedTransferCount"`
	MatchingTransferCount int                `json:"matchingTransfersCount"`
	ExpectedAmountRaw     string             `json:"expectedAmountRaw"`
	ExpectedEscrowAddress string             `json:"expectedEscrowAddress"`
	ExpectedTokenAddress  string             `json:"expectedTokenAddress"`
}

// Failure is the typed result of an unsuccessful verification.
type Failure struct {
	Code        Code        `json:"code"`
	Message     string      `json:"error"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Error implements the error interface so failures can be logged uniformly.
func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return string(f.Code) + ": " + f.Message
}

func newFailure(code Code, message string, diag Diagnostics) *Failure {
	return &Failure{Code: code, Message: message, Diagnostics: diag}
}
