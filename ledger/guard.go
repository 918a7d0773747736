package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"arenapay/observability"
)

// Guard performs conditional, idempotent writes against the settlement store.
// A patch is applied only when the row still matches the required prior
// state; zero rows affected means a concurrent attempt already won, which is
// a normal outcome, not an error. Correctness rests on the store's atomic
// conditional UPDATE, not on explicit locks.
type Guard struct {
	db      *gorm.DB
	metrics *observability.SettlementMetrics
	now     func() time.Time
}

// NewGuard constructs a guard over the provided database handle.
func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db, metrics: observability.Settlement(), now: time.Now}
}

// WithClock overrides the timestamp source, for tests.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	if clock != nil {
		g.now = clock
	}
	return g
}

// DB exposes the underlying handle for read-side queries.
func (g *Guard) DB() *gorm.DB { return g.db }

// UpdateResult reports how a conditional write landed.
type UpdateResult struct {
	RowsAffected int64
}

// Applied reports whether this caller won the write.
func (r UpdateResult) Applied() bool { return r.RowsAffected > 0 }

// ConditionalUpdate applies patch to rows matching both filter and required.
// Nil values in required translate to IS NULL, which is how "only if not yet
// written" conditions are expressed.
func (g *Guard) ConditionalUpdate(ctx context.Context, model any, filter, required, patch map[string]any) (UpdateResult, error) {
	if g == nil || g.db == nil {
		return UpdateResult{}, fmt.Errorf("ledger: guard not configured")
	}
	if len(patch) == 0 {
		return UpdateResult{}, fmt.Errorf("ledger: empty patch")
	}
	tx := g.db.WithContext(ctx).Model(model).Where(filter)
	if len(required) > 0 {
		tx = tx.Where(required)
	}
	tx = tx.Updates(patch)
	if tx.Error != nil {
		return UpdateResult{}, fmt.Errorf("ledger: conditional update: %w", tx.Error)
	}
	return UpdateResult{RowsAffected: tx.RowsAffected}, nil
}

// ClaimContestSettlement moves a contest into PROCESSING if no settlement
// attempt has touched it yet. A false result means another attempt holds or
// finished the claim.
func (g *Guard) ClaimContestSettlement(ctx context.Context, contestID uuid.UUID) (bool, error) {
	res, err := g.ConditionalUpdate(ctx, &Contest{},
		map[string]any{"id": contestID},
		map[string]any{"settle_state": nil},
		map[string]any{"settle_state": StateProcessing, "updated_at": g.now()},
	)
	if err != nil {
		return false, err
	}
	if !res.Applied() {
		g.metrics.RecordGuardConflict("contest_settlement")
	}
	return res.Applied(), nil
}

// FinishContestSettlement records a fully-submitted payout batch against a
// contest this caller previously claimed.
func (g *Guard) FinishContestSettlement(ctx context.Context, contestID uuid.UUID, primaryHash string, hashesJSON, winnersJSON string) (bool, error) {
	now := g.now()
	res, err := g.ConditionalUpdate(ctx, &Contest{},
		map[string]any{"id": contestID},
		map[string]any{"settle_state": StateProcessing},
		map[string]any{
			"settle_state":   StateSettled,
			"settle_tx_hash": primaryHash,
			"tx_hashes":      hashesJSON,
			"winners":        winnersJSON,
			"settled_at":     now,
			"updated_at":     now,
		},
	)
	if err != nil {
		return false, err
	}
	return res.Applied(), nil
}

// MarkContestSettlementPartial records a partial distribution failure so the
// submitted hashes stay visible for manual reconciliation. The contest is
// deliberately left un-claimable; operators resolve it by hand.
func (g *Guard) MarkContestSettlementPartial(ctx context.Context, contestID uuid.UUID, hashesJSON string) (bool, error) {
	res, err := g.ConditionalUpdate(ctx, &Contest{},
		map[string]any{"id": contestID},
		map[string]any{"settle_state": StateProcessing},
		map[string]any{
			"settle_state": StateFailedPartial,
			"tx_hashes":    hashesJSON,
			"updated_at":   g.now(),
		},
	)
	if err != nil {
		return false, err
	}
	return res.Applied(), nil
}

// ReleaseContestSettlement returns a claimed contest to the unclaimed state
// after a failure that moved no funds, so a later attempt can retry.
func (g *Guard) ReleaseContestSettlement(ctx context.Context, contestID uuid.UUID) error {
	_, err := g.ConditionalUpdate(ctx, &Contest{},
		map[string]any{"id": contestID},
		map[string]any{"settle_state": StateProcessing},
		map[string]any{"settle_state": nil, "updated_at": g.now()},
	)
	return err
}

// ClaimEntryRefund moves an entry into PROCESSING if no refund has been
// attempted. The claim must be held before any transfer is submitted; it is
// the sole defence against a double-clicked cancel sending two refunds.
func (g *Guard) ClaimEntryRefund(ctx context.Context, entryID uuid.UUID) (bool, error) {
	res, err := g.ConditionalUpdate(ctx, &Entry{},
		map[string]any{"id": entryID},
		map[string]any{"refund_state": nil},
		map[string]any{"refund_state": StateProcessing, "updated_at": g.now()},
	)
	if err != nil {
		return false, err
	}
	if !res.Applied() {
		g.metrics.RecordGuardConflict("entry_refund")
	}
	return res.Applied(), nil
}

// FinishEntryRefund records the refund transfer hash for a held claim.
func (g *Guard) FinishEntryRefund(ctx context.Context, entryID uuid.UUID, txHash string) (bool, error) {
	now := g.now()
	res, err := g.ConditionalUpdate(ctx, &Entry{},
		map[string]any{"id": entryID},
		map[string]any{"refund_state": StateProcessing},
		map[string]any{
			"refund_state":   StateRefunded,
			"refund_tx_hash": txHash,
			"refunded_at":    now,
			"updated_at":     now,
		},
	)
	if err != nil {
		return false, err
	}
	return res.Applied(), nil
}

// ReleaseEntryRefund clears a held claim after a transfer that never left the
// node, so the refund can be retried.
func (g *Guard) ReleaseEntryRefund(ctx context.Context, entryID uuid.UUID) error {
	_, err := g.ConditionalUpdate(ctx, &Entry{},
		map[string]any{"id": entryID},
		map[string]any{"refund_state": StateProcessing},
		map[string]any{"refund_state": nil, "updated_at": g.now()},
	)
	return err
}

// RecordPayer stores the verified payer address on an entry the first time a
// claim verifies; later verifications of the same entry are no-ops.
func (g *Guard) RecordPayer(ctx context.Context, entryID uuid.UUID, paymentTxHash, payerAddress string) (bool, error) {
	res, err := g.ConditionalUpdate(ctx, &Entry{},
		map[string]any{"id": entryID},
		map[string]any{"payer_address": ""},
		map[string]any{
			"payment_tx_hash": paymentTxHash,
			"payer_address":   payerAddress,
			"updated_at":      g.now(),
		},
	)
	if err != nil {
		return false, err
	}
	return res.Applied(), nil
}

// AppendAudit writes one audit trail row. Audit failures are surfaced but
// never block settlement.
func (g *Guard) AppendAudit(ctx context.Context, contestID, entryID *uuid.UUID, action, details string) error {
	event := AuditEvent{
		ID:        uuid.New(),
		ContestID: contestID,
		EntryID:   entryID,
		Action:    action,
		Details:   details,
		CreatedAt: g.now(),
	}
	if err := g.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("ledger: append audit: %w", err)
	}
	return nil
}
