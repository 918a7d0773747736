package settlement

import (
	"strings"

	"github.com/shopspring/decimal"

	"arenapay/distribute"
	"arenapay/verify"
)

// WinnerSummary is the per-winner slice of a settlement response.
type WinnerSummary struct {
	UserID   uint64          `json:"userId"`
	Amount   decimal.Decimal `json:"amount"`
	Position int             `json:"position"`
}

// ResponseData is the payload callers receive after a successful settlement.
// SettleTxHash is the first transfer of the batch; TxHashes and TxUrls are
// index-aligned with Winners.
type ResponseData struct {
	SettleTxHash string          `json:"settleTxHash"`
	SettleTxURL  string          `json:"settleTxUrl"`
	TxHashes     []string        `json:"txHashes"`
	TxURLs       []string        `json:"txUrls"`
	Winners      []WinnerSummary `json:"winners"`
}

// Response is the caller-facing settlement envelope.
type Response struct {
	OK   bool          `json:"ok"`
	Data *ResponseData `json:"data,omitempty"`
}

// VerificationFailureResponse is the caller-facing envelope for a failed
// payment verification.
type VerificationFailureResponse struct {
	OK          bool               `json:"ok"`
	Code        string             `json:"code"`
	Error       string             `json:"error"`
	Diagnostics verify.Diagnostics `json:"diagnostics"`
}

// NewVerificationFailureResponse wraps a typed verification failure.
func NewVerificationFailureResponse(failure *verify.Failure) VerificationFailureResponse {
	return VerificationFailureResponse{
		OK:          false,
		Code:        "PAYMENT_VERIFICATION_FAILED",
		Error:       failure.Error(),
		Diagnostics: failure.Diagnostics,
	}
}

// ExplorerTxURL derives a block-explorer link for a transaction hash. URLs
// are derived on the way out, never stored.
func ExplorerTxURL(base, txHash string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" || txHash == "" {
		return ""
	}
	return trimmed + "/tx/" + txHash
}

func buildResponse(explorerBase string, result *distribute.Result) *Response {
	urls := make([]string, len(result.TxHashes))
	for i, hash := range result.TxHashes {
		urls[i] = ExplorerTxURL(explorerBase, hash)
	}
	winners := make([]WinnerSummary, len(result.Winners))
	for i, winner := range result.Winners {
		winners[i] = WinnerSummary{
			UserID:   winner.UserID,
			Amount:   winner.Amount,
			Position: winner.Position,
		}
	}
	return &Response{
		OK: true,
		Data: &ResponseData{
			SettleTxHash: result.PrimaryTxHash,
			SettleTxURL:  ExplorerTxURL(explorerBase, result.PrimaryTxHash),
			TxHashes:     result.TxHashes,
			TxURLs:       urls,
			Winners:      winners,
		},
	}
}
