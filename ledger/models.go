package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Settlement lifecycle states tracked per contest and per entry. NULL means
// untouched; the guard only ever moves a row forward.
const (
	StateProcessing    = "PROCESSING"
	StateSettled       = "SETTLED"
	StateFailedPartial = "FAILED_PARTIAL"
	StateRefunded      = "REFUNDED"
)

// Contest is the per-contest settlement record. EntryFee is denominated in
// the deployment's single payout token; fees, payouts, and refunds all move
// the same asset. SettleState/SettleTxHash are owned by the guard: they
// transition NULL -> PROCESSING -> SETTLED (or FAILED_PARTIAL) exactly once
// per contest.
type Contest struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status       string    `gorm:"size:32;index"`
	EntryFee     string    `gorm:"size:64"`
	SettleState  *string   `gorm:"size:32;index"`
	SettleTxHash *string   `gorm:"size:80"`
	TxHashes     *string
	Winners      *string
	SettledAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Entry records one participant's paid entry. PayerAddress is the trusted
// refund destination captured at verification time; RefundState/RefundTxHash
// follow the same guarded lifecycle as contest settlement.
type Entry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	ContestID     uuid.UUID `gorm:"type:uuid;index"`
	UserID        uint64    `gorm:"index"`
	PaymentTxHash string    `gorm:"size:80;index"`
	PayerAddress  string    `gorm:"size:64"`
	RefundState   *string   `gorm:"size:32;index"`
	RefundTxHash  *string   `gorm:"size:80"`
	RefundedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuditEvent is an append-only trail of guard transitions and transfers.
type AuditEvent struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ContestID *uuid.UUID `gorm:"type:uuid;index"`
	EntryID   *uuid.UUID `gorm:"type:uuid;index"`
	Action    string     `gorm:"size:64;index"`
	Details   string
	CreatedAt time.Time
}

// AutoMigrate creates or updates the settlement schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Contest{}, &Entry{}, &AuditEvent{})
}
