package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"arenapay/distribute"
	"arenapay/identity"
	"arenapay/ledger"
	"arenapay/observability"
	"arenapay/verify"
)

var (
	// ErrContestNotFound indicates the contest identifier was unknown.
	ErrContestNotFound = errors.New("settlement: contest not found")
	// ErrEntryNotFound indicates the entry identifier was unknown.
	ErrEntryNotFound = errors.New("settlement: entry not found")
	// ErrSettlementConflict means another attempt already claimed or finished
	// this contest's settlement.
	ErrSettlementConflict = errors.New("settlement: contest already claimed by another attempt")
	// ErrRefundConflict means another attempt already claimed or finished
	// this entry's refund.
	ErrRefundConflict = errors.New("settlement: refund already claimed by another attempt")
	// ErrPayerUnknown is returned when a refund is requested before the
	// entry's payment has been verified.
	ErrPayerUnknown = errors.New("settlement: entry payment not verified, payer unknown")
	// ErrPaused is returned while the operator pause switch is engaged.
	ErrPaused = errors.New("settlement: paused")
)

// Verifier is the payment verification dependency.
type Verifier interface {
	Verify(ctx context.Context, claim verify.Claim) (*verify.VerifiedPayment, *verify.Failure)
}

// Resolver is the wallet resolution dependency.
type Resolver interface {
	ResolveAddresses(ctx context.Context, userIDs []uint64) (map[uint64][]string, error)
	ReorderByStake(ctx context.Context, candidates map[uint64][]string) map[uint64][]string
}

// Distributor is the payout dependency.
type Distributor interface {
	Distribute(ctx context.Context, winners []distribute.ResolvedWinner) (*distribute.Result, error)
}

// Config carries the per-deployment addresses and derivation settings.
type Config struct {
	TokenAddress    string
	TokenDecimals   int32
	EscrowAddress   string
	ExplorerBaseURL string
	// KnownContracts are addresses that can never be a payout destination:
	// the token, staking, escrow, and stablecoin contracts themselves.
	KnownContracts map[string]struct{}
}

// Service orchestrates verification, resolution, distribution, and guarded
// bookkeeping. The calling layer must keep at most one SettleContest in
// flight system-wide; the custodial nonce sequence cannot tolerate more.
type Service struct {
	verifier    Verifier
	resolver    Resolver
	distributor Distributor
	treasury    distribute.Treasury
	guard       *ledger.Guard
	cfg         Config
	metrics     *observability.SettlementMetrics
	log         *slog.Logger
	paused      atomic.Bool
}

// NewService wires the settlement engine together.
func NewService(verifier Verifier, resolver Resolver, distributor Distributor, treasury distribute.Treasury, guard *ledger.Guard, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		verifier:    verifier,
		resolver:    resolver,
		distributor: distributor,
		treasury:    treasury,
		guard:       guard,
		cfg:         cfg,
		metrics:     observability.Settlement(),
		log:         log,
	}
}

// Pause halts new settlements and refunds.
func (s *Service) Pause() {
	s.paused.Store(true)
	s.metrics.SetPaused(true)
}

// Resume re-enables settlements and refunds.
func (s *Service) Resume() {
	s.paused.Store(false)
	s.metrics.SetPaused(false)
}

// Paused reports the pause switch state.
func (s *Service) Paused() bool { return s.paused.Load() }

// VerifyEntryPayment checks the claimed entry-fee transaction for the given
// entry against its contest's escrow, token, and fee. On success the payer
// address is recorded on the entry row; repeat verifications of an already
// verified entry leave the stored payer untouched.
func (s *Service) VerifyEntryPayment(ctx context.Context, entryID uuid.UUID, txHash string) (*verify.VerifiedPayment, *verify.Failure, error) {
	entry, contest, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	fee, err := decimal.NewFromString(strings.TrimSpace(contest.EntryFee))
	if err != nil {
		return nil, nil, fmt.Errorf("settlement: contest %s entry fee %q: %w", contest.ID, contest.EntryFee, err)
	}
	// Verification, payouts, and refunds all move the deployment token; the
	// treasury is bound to it, so no other asset may verify.
	payment, failure := s.verifier.Verify(ctx, verify.Claim{
		TxHash:        txHash,
		EscrowAddress: s.cfg.EscrowAddress,
		TokenAddress:  s.cfg.TokenAddress,
		Amount:        fee,
		Decimals:      s.cfg.TokenDecimals,
	})
	if failure != nil {
		s.metrics.RecordVerification(string(failure.Code))
		s.log.Info("payment verification failed",
			"entry_id", entryID,
			"tx_hash", txHash,
			"code", failure.Code,
		)
		return nil, failure, nil
	}
	s.metrics.RecordVerification("OK")
	if payment.MatchCount > 1 {
		s.log.Warn("multiple matching transfers in payment transaction",
			"entry_id", entryID,
			"tx_hash", txHash,
			"matches", payment.MatchCount,
		)
	}
	recorded, err := s.guard.RecordPayer(ctx, entry.ID, txHash, payment.PayerAddress)
	if err != nil {
		return nil, nil, err
	}
	if recorded {
		s.audit(ctx, nil, &entry.ID, "entry.payment_verified",
			fmt.Sprintf("tx=%s payer=%s matches=%d", txHash, payment.PayerAddress, payment.MatchCount))
	}
	return payment, nil, nil
}

// SettleContest resolves winner wallets, distributes the prize pool, and
// records the outcome exactly once per contest. A second concurrent call
// observes the guard conflict and returns ErrSettlementConflict.
func (s *Service) SettleContest(ctx context.Context, contestID uuid.UUID, winners []distribute.WinnerEntry) (*Response, error) {
	if s.Paused() {
		return nil, ErrPaused
	}
	contest, err := s.loadContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.guard.ClaimContestSettlement(ctx, contest.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrSettlementConflict
	}

	resolved, err := s.resolveWinners(ctx, winners)
	if err != nil {
		// Nothing was sent; free the claim for a corrected retry.
		if releaseErr := s.guard.ReleaseContestSettlement(ctx, contest.ID); releaseErr != nil {
			s.log.Error("release settlement claim failed", "contest_id", contest.ID, "error", releaseErr)
		}
		return nil, err
	}

	result, err := s.distributor.Distribute(ctx, resolved)
	if err != nil {
		var partial *distribute.PartialFailureError
		if errors.As(err, &partial) {
			hashes, marshalErr := json.Marshal(partial.TxHashes)
			if marshalErr != nil {
				hashes = []byte("[]")
			}
			if _, markErr := s.guard.MarkContestSettlementPartial(ctx, contest.ID, string(hashes)); markErr != nil {
				s.log.Error("record partial settlement failed", "contest_id", contest.ID, "error", markErr)
			}
			s.audit(ctx, &contest.ID, nil, "contest.settlement_partial_failure",
				fmt.Sprintf("failed_index=%d submitted=%d hashes=%s", partial.Index, len(partial.TxHashes), hashes))
			s.log.Error("partial transfer failure during settlement",
				"contest_id", contest.ID,
				"failed_index", partial.Index,
				"submitted", len(partial.TxHashes),
				"error", partial.Err,
			)
			return nil, err
		}
		if releaseErr := s.guard.ReleaseContestSettlement(ctx, contest.ID); releaseErr != nil {
			s.log.Error("release settlement claim failed", "contest_id", contest.ID, "error", releaseErr)
		}
		return nil, err
	}

	response := buildResponse(s.cfg.ExplorerBaseURL, result)
	hashesJSON, err := json.Marshal(result.TxHashes)
	if err != nil {
		return nil, fmt.Errorf("settlement: marshal tx hashes: %w", err)
	}
	winnersJSON, err := json.Marshal(response.Data.Winners)
	if err != nil {
		return nil, fmt.Errorf("settlement: marshal winners: %w", err)
	}
	if _, err := s.guard.FinishContestSettlement(ctx, contest.ID, result.PrimaryTxHash, string(hashesJSON), string(winnersJSON)); err != nil {
		// Funds moved; the response must still reach the caller.
		s.log.Error("record settlement failed after distribution", "contest_id", contest.ID, "error", err)
	}
	s.audit(ctx, &contest.ID, nil, "contest.settled",
		fmt.Sprintf("primary=%s transfers=%d", result.PrimaryTxHash, len(result.TxHashes)))
	return response, nil
}

// RefundResult reports a submitted refund.
type RefundResult struct {
	TxHash string `json:"txHash"`
	TxURL  string `json:"txUrl,omitempty"`
}

// RefundEntry returns a verified entry's fee to its payer. The guard claim is
// taken before the transfer, so two concurrent refund calls produce exactly
// one transfer; the loser gets ErrRefundConflict and sends nothing.
func (s *Service) RefundEntry(ctx context.Context, entryID uuid.UUID) (*RefundResult, error) {
	if s.Paused() {
		return nil, ErrPaused
	}
	entry, contest, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	payer := strings.TrimSpace(entry.PayerAddress)
	if payer == "" {
		return nil, ErrPayerUnknown
	}
	fee, err := decimal.NewFromString(strings.TrimSpace(contest.EntryFee))
	if err != nil {
		return nil, fmt.Errorf("settlement: contest %s entry fee %q: %w", contest.ID, contest.EntryFee, err)
	}
	raw, err := verify.AmountToRaw(fee, s.cfg.TokenDecimals)
	if err != nil {
		return nil, err
	}

	claimed, err := s.guard.ClaimEntryRefund(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrRefundConflict
	}

	txHash, err := s.treasury.Transfer(ctx, payer, raw)
	if err != nil {
		if releaseErr := s.guard.ReleaseEntryRefund(ctx, entry.ID); releaseErr != nil {
			s.log.Error("release refund claim failed", "entry_id", entry.ID, "error", releaseErr)
		}
		s.metrics.RecordTransferError("refund")
		return nil, fmt.Errorf("settlement: refund transfer: %w", err)
	}
	if _, err := s.guard.FinishEntryRefund(ctx, entry.ID, txHash); err != nil {
		s.log.Error("record refund failed after transfer", "entry_id", entry.ID, "tx_hash", txHash, "error", err)
	}
	s.audit(ctx, &entry.ContestID, &entry.ID, "entry.refunded",
		fmt.Sprintf("tx=%s payer=%s", txHash, payer))
	return &RefundResult{
		TxHash: txHash,
		TxURL:  ExplorerTxURL(s.cfg.ExplorerBaseURL, txHash),
	}, nil
}

func (s *Service) resolveWinners(ctx context.Context, winners []distribute.WinnerEntry) ([]distribute.ResolvedWinner, error) {
	userIDs := make([]uint64, 0, len(winners))
	for _, winner := range winners {
		userIDs = append(userIDs, winner.UserID)
	}
	candidates, err := s.resolver.ResolveAddresses(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("settlement: resolve addresses: %w", err)
	}
	candidates = s.resolver.ReorderByStake(ctx, candidates)
	selected := make(map[uint64]string, len(candidates))
	for userID, addrs := range candidates {
		selected[userID] = identity.SelectWalletAddress(addrs, s.cfg.KnownContracts)
	}
	return distribute.ResolveWinners(winners, selected)
}

func (s *Service) loadContest(ctx context.Context, contestID uuid.UUID) (*ledger.Contest, error) {
	var contest ledger.Contest
	if err := s.guard.DB().WithContext(ctx).First(&contest, "id = ?", contestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContestNotFound
		}
		return nil, fmt.Errorf("settlement: load contest: %w", err)
	}
	return &contest, nil
}

func (s *Service) loadEntry(ctx context.Context, entryID uuid.UUID) (*ledger.Entry, *ledger.Contest, error) {
	var entry ledger.Entry
	if err := s.guard.DB().WithContext(ctx).First(&entry, "id = ?", entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrEntryNotFound
		}
		return nil, nil, fmt.Errorf("settlement: load entry: %w", err)
	}
	contest, err := s.loadContest(ctx, entry.ContestID)
	if err != nil {
		return nil, nil, err
	}
	return &entry, contest, nil
}

func (s *Service) audit(ctx context.Context, contestID, entryID *uuid.UUID, action, details string) {
	if err := s.guard.AppendAudit(ctx, contestID, entryID, action, details); err != nil {
		s.log.Error("audit append failed", "action", action, "error", err)
	}
}
