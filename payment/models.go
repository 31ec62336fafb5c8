package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Normalized statuses. Terminal values are never downgraded.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Refund statuses.
const (
	RefundNone       = "none"
	RefundEligible   = "eligible"
	RefundProcessing = "processing"
	RefundCompleted  = "completed"
	RefundFailed     = "failed"
)

// Failure reasons persisted to last_error.
const (
	ReasonStaleNoTransaction = "stale_no_transaction"
	ReasonNotFound           = "not_found"
)

// Intent is one funding attempt for a player's deposit. Created on
// initiation, advanced by the worker and the orchestrator, never deleted.
type Intent struct {
	ID        string
	Reference string
	UserID    string
	Amount    decimal.Decimal
	MatchID   *string

	RawStatus        *string
	NormalizedStatus string
	OracleTxID       *string
	TxHash           *string

	LockedAt *time.Time
	LockedBy *string

	RetryCount  int
	LastRetryAt *time.Time
	NextRetryAt *time.Time
	LastError   *string

	RefundStatus   string
	RefundDeadline *time.Time
	RefundAmount   *decimal.Decimal
	RefundReason   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Confirmed reports whether the intent has a confirmed deposit.
func (i *Intent) Confirmed() bool { return i.NormalizedStatus == StatusConfirmed }

// Terminal reports whether the normalized status can no longer change.
func (i *Intent) Terminal() bool {
	switch i.NormalizedStatus {
	case StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
