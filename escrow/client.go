// Package escrow is the thin client for the on-chain settlement backend.
// It never inspects chain state itself; the backend owns signing and
// confirmation tracking.
package escrow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Operation kinds recorded in the ledger so replays can be detected across
// restarts.
const (
	OpCreate   = "create"
	OpComplete = "complete"
	OpSplit    = "split"
	OpCancel   = "cancel"
)

// Result is the outcome of a mutating escrow call.
type Result struct {
	OK     bool
	TxHash string
	Err    string
}

// MatchInfo mirrors the settlement backend's view of a match.
type MatchInfo struct {
	Player1       string
	Player2       string
	StakeAmount   decimal.Decimal
	Player1Staked bool
	Player2Staked bool
	Completed     bool
	Cancelled     bool
}

// StakeStatus is the convenience read used by the funding gate.
type StakeStatus struct {
	HasStakes     bool
	Player1Staked bool
	Player2Staked bool
}

// Client is the settlement surface the orchestrator depends on.
type Client interface {
	// CreateMatch registers the match before any deposit arrives.
	CreateMatch(ctx context.Context, matchID, p1Wallet, p2Wallet string, stake decimal.Decimal) (Result, error)
	// CompleteMatch pays the pot minus platform fee to the winner.
	CompleteMatch(ctx context.Context, matchID, winnerWallet string) (Result, error)
	// SplitPot splits (pot - fee) evenly between the players.
	SplitPot(ctx context.Context, matchID string) (Result, error)
	// CancelMatch refunds both deposits; fails unless both deposits exist.
	CancelMatch(ctx context.Context, matchID string) (Result, error)
	// GetMatch returns the backend's record, or nil when absent.
	GetMatch(ctx context.Context, matchID string) (*MatchInfo, error)
}

// VerifyStakeStatus reads both deposit flags in one call.
func VerifyStakeStatus(ctx context.Context, c Client, matchID string) (StakeStatus, error) {
	info, err := c.GetMatch(ctx, matchID)
	if err != nil {
		return StakeStatus{}, fmt.Errorf("escrow: verify stake status: %w", err)
	}
	if info == nil {
		return StakeStatus{}, nil
	}
	return StakeStatus{
		HasStakes:     info.Player1Staked && info.Player2Staked,
		Player1Staked: info.Player1Staked,
		Player2Staked: info.Player2Staked,
	}, nil
}

// VerifyForFunding checks the FUNDING -> READY guard: escrow exists, both
// deposits present, the amount matches within tolerance, and the match is not
// already settled.
func VerifyForFunding(ctx context.Context, c Client, matchID string, expectedStake decimal.Decimal) error {
	info, err := c.GetMatch(ctx, matchID)
	if err != nil {
		return fmt.Errorf("escrow: verify funding: %w", err)
	}
	if info == nil {
		return fmt.Errorf("escrow: match %s not registered", matchID)
	}
	if info.Completed || info.Cancelled {
		return fmt.Errorf("escrow: match %s already settled", matchID)
	}
	if !info.Player1Staked || !info.Player2Staked {
		return fmt.Errorf("escrow: match %s missing deposits", matchID)
	}
	tolerance := decimal.NewFromFloat(0.001)
	if info.StakeAmount.Sub(expectedStake).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("escrow: match %s stake mismatch: have %s want %s",
			matchID, info.StakeAmount, expectedStake)
	}
	return nil
}
