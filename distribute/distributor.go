package distribute

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"arenapay/observability"
	"arenapay/verify"
)

// WinnerEntry is one row of a settlement request: who gets paid and how much.
// Position is a 1-based rank; zero means "use the input index".
type WinnerEntry struct {
	UserID   uint64          `json:"userId"`
	Amount   decimal.Decimal `json:"amount"`
	Position int             `json:"position"`
}

// ResolvedWinner is a winner entry after its payout address has been
// determined. Every resolved winner carries a non-empty address; resolution
// fails the whole batch rather than silently skipping anyone.
type ResolvedWinner struct {
	UserID   uint64
	Amount   decimal.Decimal
	Position int
	Address  string
}

// ValidationError names the first offending entry in a settlement request.
type ValidationError struct {
	Index  int
	UserID uint64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("distribute: entry %d (user %d): %s", e.Index, e.UserID, e.Reason)
}

// NoWalletError indicates a winner whose candidate set yielded no payable
// address.
type NoWalletError struct {
	UserID uint64
}

func (e *NoWalletError) Error() string {
	return fmt.Sprintf("distribute: no wallet address for user %d", e.UserID)
}

// InsufficientBalanceError is raised before any transfer is submitted when
// the custodial wallet cannot cover the whole batch.
type InsufficientBalanceError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("distribute: insufficient balance: need %s, have %s", e.Required, e.Available)
}

// PartialFailureError means real funds were partially disbursed: the transfer
// at Index failed after TxHashes were already submitted. Callers must surface
// it loudly and reconcile against the hash list.
type PartialFailureError struct {
	Index    int
	UserID   uint64
	TxHashes []string
	Err      error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("distribute: transfer %d (user %d) failed after %d submitted: %v", e.Index, e.UserID, len(e.TxHashes), e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// ResolveWinners validates a settlement request and binds each winner to its
// payout address. Validation is fail-fast; the first bad entry aborts with a
// structured error and no partial result.
func ResolveWinners(entries []WinnerEntry, addresses map[uint64]string) ([]ResolvedWinner, error) {
	if len(entries) == 0 {
		return nil, &ValidationError{Index: 0, Reason: "winner list is empty"}
	}
	seen := make(map[uint64]struct{}, len(entries))
	resolved := make([]ResolvedWinner, 0, len(entries))
	for i, entry := range entries {
		if entry.UserID == 0 {
			return nil, &ValidationError{Index: i, Reason: "userId is required"}
		}
		if _, dup := seen[entry.UserID]; dup {
			return nil, &ValidationError{Index: i, UserID: entry.UserID, Reason: "duplicate userId"}
		}
		seen[entry.UserID] = struct{}{}
		if entry.Amount.IsNegative() {
			return nil, &ValidationError{Index: i, UserID: entry.UserID, Reason: "amount must be >= 0"}
		}
		position := entry.Position
		if position <= 0 {
			position = i + 1
		}
		address := addresses[entry.UserID]
		if address == "" {
			return nil, &NoWalletError{UserID: entry.UserID}
		}
		resolved = append(resolved, ResolvedWinner{
			UserID:   entry.UserID,
			Amount:   entry.Amount,
			Position: position,
			Address:  address,
		})
	}
	return resolved, nil
}

// Treasury moves payout-token funds out of the custodial wallet.
type Treasury interface {
	Balance(ctx context.Context) (*big.Int, error)
	Transfer(ctx context.Context, to string, amount *big.Int) (string, error)
}

// Distributor performs batched reward distribution from the custodial wallet.
// Transfers are strictly sequential: all share one nonce sequence, and the
// calling layer must keep at most one Distribute in flight system-wide.
type Distributor struct {
	treasury Treasury
	decimals int32
	metrics  *observability.SettlementMetrics
	log      *slog.Logger
	onState  func(BatchState)
	now      func() time.Time
}

// Option customises the distributor instance.
type Option func(*Distributor)

// WithLogger supplies a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Distributor) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.SettlementMetrics) Option {
	return func(d *Distributor) { d.metrics = m }
}

// WithStateHook registers a callback invoked on every batch state transition.
func WithStateHook(hook func(BatchState)) Option {
	return func(d *Distributor) { d.onState = hook }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(d *Distributor) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDistributor constructs a distributor paying out a token with the given
// decimal scale.
func NewDistributor(treasury Treasury, decimals int32, opts ...Option) *Distributor {
	d := &Distributor{
		treasury: treasury,
		decimals: decimals,
		metrics:  observability.Settlement(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result captures a fully-submitted batch. TxHashes is index-aligned with
// Winners; PrimaryTxHash is the first hash, used for immediate UI feedback.
type Result struct {
	PrimaryTxHash string
	TxHashes      []string
	Winners       []ResolvedWinner
}

// rawAmounts converts every winner amount to the token's smallest unit and
// returns the per-winner values plus their exact sum. Any amount beyond the
// token's precision rejects the whole batch before funds move.
func rawAmounts(winners []ResolvedWinner, decimals int32) ([]*big.Int, *big.Int, error) {
	raws := make([]*big.Int, len(winners))
	total := new(big.Int)
	for i, winner := range winners {
		raw, err := verify.AmountToRaw(winner.Amount, decimals)
		if err != nil {
			return nil, nil, &ValidationError{Index: i, UserID: winner.UserID, Reason: err.Error()}
		}
		raws[i] = raw
		total.Add(total, raw)
	}
	return raws, total, nil
}

// Distribute checks the custodial balance covers the whole batch, then sends
// one transfer per winner in input order, each awaited to submission before
// the next. A failure at index i aborts the remainder and returns a
// PartialFailureError carrying the i hashes already submitted.
func (d *Distributor) Distribute(ctx context.Context, winners []ResolvedWinner) (*Result, error) {
	if d == nil || d.treasury == nil {
		return nil, fmt.Errorf("distribute: treasury not configured")
	}
	if len(winners) == 0 {
		return nil, &ValidationError{Index: 0, Reason: "winner list is empty"}
	}

	state := BatchState{Phase: PhasePending}
	d.transition(state)

	raws, required, err := rawAmounts(winners, d.decimals)
	if err != nil {
		d.metrics.RecordTransferError("amount_precision")
		return nil, err
	}
	available, err := d.treasury.Balance(ctx)
	if err != nil {
		d.metrics.RecordTransferError("balance_read")
		return nil, fmt.Errorf("distribute: read treasury balance: %w", err)
	}
	if available.Cmp(required) < 0 {
		d.metrics.RecordTransferError("insufficient_balance")
		return nil, &InsufficientBalanceError{
			Required:  new(big.Int).Set(required),
			Available: new(big.Int).Set(available),
		}
	}

	start := d.now()
	hashes := make([]string, 0, len(winners))
	for i, winner := range winners {
		state = BatchState{Phase: PhaseSubmitting, Index: i, TxHashes: hashes}
		d.transition(state)

		hash, err := d.treasury.Transfer(ctx, winner.Address, raws[i])
		if err != nil {
			d.metrics.RecordTransferError("transfer")
			return nil, d.failed(i, winner, hashes, err)
		}
		hashes = append(hashes, hash)
		d.log.Info("payout transfer submitted",
			"user_id", winner.UserID,
			"position", winner.Position,
			"tx_hash", hash,
		)
	}

	state = BatchState{Phase: PhaseSubmitted, Index: len(winners) - 1, TxHashes: hashes}
	d.transition(state)
	d.metrics.ObserveDistribution(d.now().Sub(start))

	return &Result{
		PrimaryTxHash: hashes[0],
		TxHashes:      hashes,
		Winners:       winners,
	}, nil
}

func (d *Distributor) failed(index int, winner ResolvedWinner, hashes []string, err error) error {
	sent := make([]string, len(hashes))
	copy(sent, hashes)
	failure := &PartialFailureError{Index: index, UserID: winner.UserID, TxHashes: sent, Err: err}
	d.transition(BatchState{Phase: PhaseFailed, Index: index, TxHashes: sent, Err: err})
	d.log.Error("payout batch aborted",
		"index", index,
		"user_id", winner.UserID,
		"submitted", len(sent),
		"error", err,
	)
	return failure
}

func (d *Distributor) transition(state BatchState) {
	if d.onState != nil {
		d.onState(state)
	}
}
