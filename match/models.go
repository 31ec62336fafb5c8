package match

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Result types. The categorical outcome of a match, independent of which
// player happens to be the winner.
const (
	ResultNormalWin           = "normal_win"
	ResultTie                 = "tie"
	ResultBothDisqualified    = "both_disqualified"
	ResultPlayer1Disqualified = "player1_disqualified"
	ResultPlayer2Disqualified = "player2_disqualified"
	ResultBothTimeoutTie      = "both_timeout_tie"
	ResultPlayer1Timeout      = "player1_timeout"
	ResultPlayer2Timeout      = "player2_timeout"
	ResultPlayer1SlowWin      = "player1_slow_win"
	ResultPlayer2SlowWin      = "player2_slow_win"
)

// Claim statuses for unclaimed winnings.
const (
	ClaimUnclaimed = "unclaimed"
	ClaimClaimed   = "claimed"
	ClaimExpired   = "expired"
)

// Cancellation reasons persisted to cancel_reason.
const (
	CancelEscrowVerificationFailed = "escrow_verification_failed"
	CancelReadyTimeout             = "ready_timeout"
	CancelPaymentTimeout           = "payment_timeout"
	CancelAbandoned                = "abandoned"
	CancelMaxReconnects            = "max_reconnects"
	CancelStaleSweep               = "stale_sweep"
	CancelTapWindowExpired         = "tap_window_expired"
)

// DisqualifiedReactionMs is the sentinel reaction persisted for an early tap.
const DisqualifiedReactionMs = -1

var (
	// ErrNotFound signals the match does not exist.
	ErrNotFound = errors.New("match: not found")
	// ErrNotParticipant signals the caller is not one of the two players.
	ErrNotParticipant = errors.New("match: caller is not a participant")
	// ErrInvalidTransition signals a state change the machine forbids.
	ErrInvalidTransition = errors.New("match: invalid state transition")
	// ErrStakeNotConfirmed signals the referenced payment is not confirmed.
	ErrStakeNotConfirmed = errors.New("match: stake payment not confirmed")
	// ErrNotStarted signals a tap before the signal machinery is armed.
	ErrNotStarted = errors.New("match: not started")
	// ErrWindowExpired signals a tap after the tap window closed.
	ErrWindowExpired = errors.New("match: tap window expired")
	// ErrTimingDiscrepancy signals client/server reaction disagreement
	// beyond tolerance.
	ErrTimingDiscrepancy = errors.New("match: client/server timing discrepancy")
	// ErrNotWinner signals a claim by someone who did not win.
	ErrNotWinner = errors.New("match: caller is not the winner")
	// ErrClaimWindowClosed signals a claim after the deadline.
	ErrClaimWindowClosed = errors.New("match: claim window closed")
	// ErrAlreadyClaimed signals a duplicate claim.
	ErrAlreadyClaimed = errors.New("match: winnings already claimed")
	// ErrSignalAlreadySet guards the set-exactly-once green light.
	ErrSignalAlreadySet = errors.New("match: green light already scheduled")
)

// Match mirrors the matches table.
type Match struct {
	ID             string
	IdempotencyKey *string
	Player1ID      string
	Player2ID      string
	Player1Wallet  string
	Player2Wallet  string
	StakeAmount    decimal.Decimal

	Status         State
	GreenLightTime *int64
	SignalDelayMs  *int64
	WinnerID       *string
	ResultType     *string
	CompletedAt    *time.Time

	Player1Ready   bool
	Player2Ready   bool
	Player1ReadyAt *time.Time
	Player2ReadyAt *time.Time
	Player1Staked  bool
	Player2Staked  bool

	Player1ReactionMs   *int64
	Player2ReactionMs   *int64
	Player1Disqualified bool
	Player2Disqualified bool

	PlatformFee   *decimal.Decimal
	ClaimStatus   *string
	ClaimDeadline *time.Time
	WinnerWallet  *string
	LoserWallet   *string

	Player1LastPing    *time.Time
	Player2LastPing    *time.Time
	Player1Disconnects int
	Player2Disconnects int
	CancelReason       *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Free reports whether this is a zero-stake practice match.
func (m *Match) Free() bool { return m.StakeAmount.IsZero() }

// PlayerIndex returns 1 or 2 for a participant, 0 otherwise.
func (m *Match) PlayerIndex(userID string) int {
	switch userID {
	case m.Player1ID:
		return 1
	case m.Player2ID:
		return 2
	default:
		return 0
	}
}

// Opponent returns the other player's id and wallet.
func (m *Match) Opponent(userID string) (id, wallet string) {
	if userID == m.Player1ID {
		return m.Player2ID, m.Player2Wallet
	}
	return m.Player1ID, m.Player1Wallet
}

// BothStaked reports whether both deposit flags are set.
func (m *Match) BothStaked() bool { return m.Player1Staked && m.Player2Staked }

// BothReady reports whether both ready flags are set.
func (m *Match) BothReady() bool { return m.Player1Ready && m.Player2Ready }

// Pot is the total at stake: both deposits.
func (m *Match) Pot() decimal.Decimal {
	return m.StakeAmount.Mul(decimal.NewFromInt(2))
}

// TapEvent is the immutable record of a player's first tap.
type TapEvent struct {
	ID              string
	MatchID         string
	UserID          string
	ClientTimestamp *int64
	ServerTimestamp int64
	ReactionMs      int64
	IsValid         bool
	Disqualified    bool
	DQReason        *string
	CreatedAt       time.Time
}
