package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tapduel/anticheat"
	"tapduel/escrow"
	"tapduel/metrics"
	"tapduel/payment"
	"tapduel/timing"
)

// Payments is the payment-intent surface the orchestrator drives during
// funding and refunds.
type Payments interface {
	GetByReference(ctx context.Context, reference string) (payment.Intent, error)
	LinkToMatch(ctx context.Context, reference, matchID string) error
	MarkRefundEligible(ctx context.Context, tx pgx.Tx, matchID, reason string, deadline time.Time) error
	CompleteEligibleRefunds(ctx context.Context, matchID string) (int64, error)
}

// Sessions is the coordinator surface gating the single-active-match rule.
type Sessions interface {
	SetActiveMatch(ctx context.Context, userID, matchID string) error
	ClearActiveMatch(ctx context.Context, userID string) error
}

// Inspector runs post-match aggregate anti-cheat checks.
type Inspector interface {
	Inspect(ctx context.Context, userID string)
}

// OrchestratorConfig is the slice of service configuration the match
// lifecycle needs.
type OrchestratorConfig struct {
	SignalDelayMin time.Duration
	SignalDelayMax time.Duration
	Countdown      time.Duration

	MaxReactionMs        int64
	ClockSyncToleranceMs int64
	TapWindowMs          int64

	PlatformFeePercent int64
	ClaimWindow        time.Duration
	RefundWindow       time.Duration
}

// Orchestrator owns the match lifecycle: creation, funding, the armed signal,
// taps, settlement, claims and refunds. Every mutation runs under the match
// row lock; external escrow calls happen outside transactions through the
// idempotent client.
type Orchestrator struct {
	repo     *Repository
	payments Payments
	sessions Sessions
	escrow   escrow.Client
	detector Inspector
	clock    timing.Clock
	cfg      OrchestratorConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator wires the lifecycle engine. detector may be nil.
func NewOrchestrator(repo *Repository, payments Payments, sessions Sessions,
	escrowClient escrow.Client, detector Inspector, clock timing.Clock,
	cfg OrchestratorConfig, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		payments: payments,
		sessions: sessions,
		escrow:   escrowClient,
		detector: detector,
		clock:    clock,
		cfg:      cfg,
		log:      log,
		metrics:  m,
	}
}

// PlayerRef identifies one side of a pairing.
type PlayerRef struct {
	ID     string
	Wallet string
}

// CreateFromPair persists a fresh match for a matched pair. Staked matches
// are registered with escrow and parked in FUNDING; free matches go straight
// to READY. Replays through the idempotency key return the existing match.
func (o *Orchestrator) CreateFromPair(ctx context.Context, p1, p2 PlayerRef, stake decimal.Decimal, idemKey *string) (Match, error) {
	m, err := o.repo.Create(ctx, CreateParams{
		IdempotencyKey: idemKey,
		Player1ID:      p1.ID,
		Player2ID:      p2.ID,
		Player1Wallet:  p1.Wallet,
		Player2Wallet:  p2.Wallet,
		Stake:          stake,
		Status:         StateMatched,
	})
	if err != nil {
		return Match{}, err
	}
	if m.Status != StateMatched {
		// Idempotent replay of an already-progressed match.
		return m, nil
	}

	log := o.log.With(
		zap.String("match_id", m.ID),
		zap.String("correlation_id", CorrelationID(m.ID, m.CreatedAt)))

	if !m.Free() {
		res, err := o.escrow.CreateMatch(ctx, m.ID, m.Player1Wallet, m.Player2Wallet, stake)
		if err != nil || !res.OK {
			if cancelErr := o.cancelTerminal(ctx, m.ID, CancelEscrowVerificationFailed); cancelErr != nil {
				log.Error("cancel after escrow create failure", zap.Error(cancelErr))
			}
			if err == nil {
				err = fmt.Errorf("match: escrow create rejected: %s", res.Err)
			}
			return Match{}, err
		}
	}

	next := StateReady
	if !m.Free() {
		next = StateFunding
	}

	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return Match{}, err
	}
	defer tx.Rollback(ctx)

	if err := o.repo.Transition(ctx, tx, m.ID, StateMatched, next); err != nil {
		return Match{}, err
	}
	o.audit(ctx, tx, &m, nil, "match.created", map[string]any{
		"stake":  stake.String(),
		"status": string(next),
	})
	if err := tx.Commit(ctx); err != nil {
		return Match{}, fmt.Errorf("match: commit create: %w", err)
	}

	for _, uid := range []string{p1.ID, p2.ID} {
		if err := o.sessions.SetActiveMatch(ctx, uid, m.ID); err != nil {
			log.Warn("set active match failed", zap.String("user_id", uid), zap.Error(err))
		}
	}

	o.metrics.MatchesCreated.Inc()
	log.Info("match created",
		zap.String("stake", stake.String()),
		zap.String("status", string(next)))

	return o.repo.GetByID(ctx, m.ID)
}

// ConfirmStakeResult tells the caller how far funding has progressed.
type ConfirmStakeResult struct {
	BothStaked bool
	CanStart   bool
}

// ConfirmStake marks the caller's deposit after verifying the referenced
// payment intent is theirs and confirmed. When the second flag lands, the
// escrow record is verified and the match moves to READY, or is cancelled
// with refunds opened.
func (o *Orchestrator) ConfirmStake(ctx context.Context, matchID, userID, paymentReference string) (ConfirmStakeResult, error) {
	intent, err := o.payments.GetByReference(ctx, paymentReference)
	if err != nil {
		return ConfirmStakeResult{}, err
	}
	if intent.UserID != userID {
		return ConfirmStakeResult{}, payment.ErrNotOwner
	}
	if !intent.Confirmed() {
		return ConfirmStakeResult{}, ErrStakeNotConfirmed
	}
	if intent.MatchID != nil && *intent.MatchID != matchID {
		return ConfirmStakeResult{}, fmt.Errorf("%w: intent bound to another match", ErrStakeNotConfirmed)
	}
	if err := o.payments.LinkToMatch(ctx, paymentReference, matchID); err != nil {
		return ConfirmStakeResult{}, err
	}

	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return ConfirmStakeResult{}, err
	}
	defer tx.Rollback(ctx)

	m, err := o.repo.GetForUpdate(ctx, tx, matchID)
	if err != nil {
		return ConfirmStakeResult{}, err
	}
	idx := m.PlayerIndex(userID)
	if idx == 0 {
		return ConfirmStakeResult{}, ErrNotParticipant
	}
	if m.Status != StateFunding {
		return ConfirmStakeResult{}, fmt.Errorf("%w: confirm stake in %s", ErrInvalidTransition, m.Status)
	}

	if err := o.repo.SetStaked(ctx, tx, matchID, idx); err != nil {
		return ConfirmStakeResult{}, err
	}
	if idx == 1 {
		m.Player1Staked = true
	} else {
		m.Player2Staked = true
	}

	res := ConfirmStakeResult{BothStaked: m.BothStaked()}
	if m.BothStaked() {
		if verifyErr := escrow.VerifyForFunding(ctx, o.escrow, matchID, m.StakeAmount); verifyErr != nil {
			o.log.Warn("escrow verification failed",
				zap.String("match_id", matchID),
				zap.String("correlation_id", CorrelationID(m.ID, m.CreatedAt)),
				zap.Error(verifyErr))
			if err := o.repo.Cancel(ctx, tx, matchID, CancelEscrowVerificationFailed, StateCancelled); err != nil {
				return ConfirmStakeResult{}, err
			}
			if err := o.openRefunds(ctx, tx, &m, CancelEscrowVerificationFailed); err != nil {
				return ConfirmStakeResult{}, err
			}
			o.audit(ctx, tx, &m, &userID, "match.cancelled", map[string]any{
				"reason": CancelEscrowVerificationFailed,
			})
			if err := tx.Commit(ctx); err != nil {
				return ConfirmStakeResult{}, fmt.Errorf("match: commit escrow cancel: %w", err)
			}
			o.metrics.MatchesCancelled.WithLabelValues(CancelEscrowVerificationFailed).Inc()
			o.clearSessions(ctx, &m)
			return ConfirmStakeResult{}, fmt.Errorf("match: %s: %w", CancelEscrowVerificationFailed, verifyErr)
		}
		if err := o.repo.Transition(ctx, tx, matchID, StateFunding, StateReady); err != nil {
			return ConfirmStakeResult{}, err
		}
		res.CanStart = true
	}

	o.audit(ctx, tx, &m, &userID, "match.stake_confirmed", map[string]any{
		"reference":   paymentReference,
		"both_staked": res.BothStaked,
	})
	if err := tx.Commit(ctx); err != nil {
		return ConfirmStakeResult{}, fmt.Errorf("match: commit confirm stake: %w", err)
	}
	return res, nil
}

// ReadyResult is returned from Ready; GreenLightTime is set once both players
// are ready and the signal is armed.
type ReadyResult struct {
	BothReady      bool
	GreenLightTime *int64
}

// Ready sets the caller's ready flag under the row lock. The second ready
// draws the secret signal delay, arms the green light and starts the match in
// the same transaction.
func (o *Orchestrator) Ready(ctx context.Context, matchID, userID string) (ReadyResult, error) {
	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return ReadyResult{}, err
	}
	defer tx.Rollback(ctx)

	m, err := o.repo.GetForUpdate(ctx, tx, matchID)
	if err != nil {
		return ReadyResult{}, err
	}
	idx := m.PlayerIndex(userID)
	if idx == 0 {
		return ReadyResult{}, ErrNotParticipant
	}
	if m.Status != StateReady {
		return ReadyResult{}, fmt.Errorf("%w: ready in %s", ErrInvalidTransition, m.Status)
	}

	if err := o.repo.SetReady(ctx, tx, matchID, idx); err != nil {
		return ReadyResult{}, err
	}
	if idx == 1 {
		m.Player1Ready = true
	} else {
		m.Player2Ready = true
	}

	res := ReadyResult{BothReady: m.BothReady()}
	if m.BothReady() {
		delay, err := timing.SignalDelay(o.cfg.SignalDelayMin, o.cfg.SignalDelayMax)
		if err != nil {
			return ReadyResult{}, err
		}
		green := o.clock.NowMillis() + o.cfg.Countdown.Milliseconds() + delay.Milliseconds()
		if err := o.repo.ArmSignal(ctx, tx, matchID, green, delay.Milliseconds()); err != nil {
			return ReadyResult{}, err
		}
		if err := o.repo.Transition(ctx, tx, matchID, StateReady, StateStarted); err != nil {
			return ReadyResult{}, err
		}
		res.GreenLightTime = &green
	}

	o.audit(ctx, tx, &m, &userID, "match.ready", map[string]any{
		"both_ready": res.BothReady,
	})
	if err := tx.Commit(ctx); err != nil {
		return ReadyResult{}, fmt.Errorf("match: commit ready: %w", err)
	}

	if res.GreenLightTime != nil {
		o.log.Info("signal armed",
			zap.String("match_id", matchID),
			zap.String("correlation_id", CorrelationID(m.ID, m.CreatedAt)),
			zap.Int64("green_light_time", *res.GreenLightTime))
	}
	return res, nil
}

// StateView is the polling snapshot returned to clients.
type StateView struct {
	MatchID          string
	Status           State
	Phase            Phase
	CountdownSeconds int64
	GreenLightTime   *int64
	Stake            decimal.Decimal

	OpponentID    string
	YouReady      bool
	OpponentReady bool
	YouStaked     bool
	OpponentStaked bool

	YourReactionMs     *int64
	OpponentReactionMs *int64
	WinnerID           *string
	ResultType         *string
	CancelReason       *string
	ClaimStatus        *string
	ClaimDeadline      *time.Time
}

// GetState derives the poll snapshot, including the countdown sub-state once
// the signal is armed.
func (o *Orchestrator) GetState(ctx context.Context, matchID, userID string) (StateView, error) {
	m, err := o.repo.GetByID(ctx, matchID)
	if err != nil {
		return StateView{}, err
	}
	idx := m.PlayerIndex(userID)
	if idx == 0 {
		return StateView{}, ErrNotParticipant
	}

	v := StateView{
		MatchID:        m.ID,
		Status:         m.Status,
		GreenLightTime: m.GreenLightTime,
		Stake:          m.StakeAmount,
		WinnerID:       m.WinnerID,
		ResultType:     m.ResultType,
		CancelReason:   m.CancelReason,
		ClaimStatus:    m.ClaimStatus,
		ClaimDeadline:  m.ClaimDeadline,
	}
	opponentID, _ := m.Opponent(userID)
	v.OpponentID = opponentID
	if idx == 1 {
		v.YouReady, v.OpponentReady = m.Player1Ready, m.Player2Ready
		v.YouStaked, v.OpponentStaked = m.Player1Staked, m.Player2Staked
		v.YourReactionMs, v.OpponentReactionMs = m.Player1ReactionMs, m.Player2ReactionMs
	} else {
		v.YouReady, v.OpponentReady = m.Player2Ready, m.Player1Ready
		v.YouStaked, v.OpponentStaked = m.Player2Staked, m.Player1Staked
		v.YourReactionMs, v.OpponentReactionMs = m.Player2ReactionMs, m.Player1ReactionMs
	}

	if m.Status == StateStarted && m.GreenLightTime != nil {
		now := o.clock.NowMillis()
		v.Phase = DerivePhase(*m.GreenLightTime, now, o.cfg.Countdown.Milliseconds())
		if v.Phase == PhaseCountdown {
			delta := *m.GreenLightTime - now
			v.CountdownSeconds = (delta + 999) / 1000
		}
	}
	return v, nil
}

// TapResult is the response for one tap attempt.
type TapResult struct {
	Tap                TapEvent
	WaitingForOpponent bool
	Disqualified       bool
	Reason             string
}

// Tap records the caller's reaction. The server clock is authoritative; a
// client timestamp is advisory and only used for the discrepancy check.
func (o *Orchestrator) Tap(ctx context.Context, matchID, userID string, clientTs *int64) (TapResult, error) {
	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return TapResult{}, err
	}
	defer tx.Rollback(ctx)

	m, err := o.repo.GetForUpdate(ctx, tx, matchID)
	if err != nil {
		return TapResult{}, err
	}
	idx := m.PlayerIndex(userID)
	if idx == 0 {
		return TapResult{}, ErrNotParticipant
	}
	if m.Status != StateStarted || m.GreenLightTime == nil {
		return TapResult{}, ErrNotStarted
	}

	green := *m.GreenLightTime
	serverNow := o.clock.NowMillis()
	reaction := serverNow - green

	if reaction < -o.cfg.ClockSyncToleranceMs {
		return o.recordEarlyTap(ctx, tx, &m, userID, idx, clientTs, serverNow)
	}
	if reaction < 0 {
		// Inside clock-sync tolerance: the tap counts as landing on the
		// signal itself.
		reaction = 0
	}
	if reaction > o.cfg.TapWindowMs {
		return TapResult{}, ErrWindowExpired
	}
	if clientTs != nil {
		if !anticheat.CheckTimingDiscrepancy(*clientTs-green, reaction) {
			o.metrics.TapsRecorded.WithLabelValues("discrepancy").Inc()
			return TapResult{}, ErrTimingDiscrepancy
		}
	}

	isValid := reaction <= o.cfg.MaxReactionMs
	event := TapEvent{
		MatchID:         matchID,
		UserID:          userID,
		ClientTimestamp: clientTs,
		ServerTimestamp: serverNow,
		ReactionMs:      reaction,
		IsValid:         isValid,
	}
	stored, inserted, err := o.repo.InsertTap(ctx, tx, event)
	if err != nil {
		return TapResult{}, err
	}
	if !inserted {
		// Duplicate tap: the first write won, nothing changes.
		if err := tx.Commit(ctx); err != nil {
			return TapResult{}, fmt.Errorf("match: commit duplicate tap: %w", err)
		}
		o.metrics.TapsRecorded.WithLabelValues("duplicate").Inc()
		return TapResult{Tap: stored, WaitingForOpponent: !o.opponentTapped(&m, idx)}, nil
	}

	if err := o.repo.RecordReaction(ctx, tx, matchID, idx, reaction, false); err != nil {
		return TapResult{}, err
	}
	if idx == 1 {
		m.Player1ReactionMs = &reaction
	} else {
		m.Player2ReactionMs = &reaction
	}

	res := TapResult{Tap: stored, WaitingForOpponent: !o.opponentTapped(&m, idx)}
	var settled *settlement
	if !res.WaitingForOpponent {
		if settled, err = o.settle(ctx, tx, &m); err != nil {
			return TapResult{}, err
		}
	}

	o.audit(ctx, tx, &m, &userID, "match.tap", map[string]any{
		"reaction_ms": reaction,
		"is_valid":    isValid,
	})
	if err := tx.Commit(ctx); err != nil {
		return TapResult{}, fmt.Errorf("match: commit tap: %w", err)
	}

	class := "valid"
	if !isValid {
		class = "slow"
	}
	o.metrics.TapsRecorded.WithLabelValues(class).Inc()
	if settled != nil {
		o.afterSettlement(ctx, &m, settled)
	}
	return res, nil
}

// recordEarlyTap persists the false start and settles immediately when the
// opponent already tapped.
func (o *Orchestrator) recordEarlyTap(ctx context.Context, tx pgx.Tx, m *Match, userID string, idx int, clientTs *int64, serverNow int64) (TapResult, error) {
	reason := "early_tap"
	event := TapEvent{
		MatchID:         m.ID,
		UserID:          userID,
		ClientTimestamp: clientTs,
		ServerTimestamp: serverNow,
		ReactionMs:      DisqualifiedReactionMs,
		Disqualified:    true,
		DQReason:        &reason,
	}
	stored, inserted, err := o.repo.InsertTap(ctx, tx, event)
	if err != nil {
		return TapResult{}, err
	}
	if !inserted {
		if err := tx.Commit(ctx); err != nil {
			return TapResult{}, fmt.Errorf("match: commit duplicate early tap: %w", err)
		}
		return TapResult{Tap: stored, Disqualified: stored.Disqualified, Reason: reason}, nil
	}

	if err := o.repo.RecordReaction(ctx, tx, m.ID, idx, DisqualifiedReactionMs, true); err != nil {
		return TapResult{}, err
	}
	dq := int64(DisqualifiedReactionMs)
	if idx == 1 {
		m.Player1ReactionMs = &dq
		m.Player1Disqualified = true
	} else {
		m.Player2ReactionMs = &dq
		m.Player2Disqualified = true
	}

	var settled *settlement
	if o.opponentTapped(m, idx) {
		if settled, err = o.settle(ctx, tx, m); err != nil {
			return TapResult{}, err
		}
	}

	o.audit(ctx, tx, m, &userID, "match.tap_disqualified", map[string]any{
		"reason": reason,
	})
	if err := tx.Commit(ctx); err != nil {
		return TapResult{}, fmt.Errorf("match: commit early tap: %w", err)
	}
	o.metrics.TapsRecorded.WithLabelValues("early").Inc()
	if settled != nil {
		o.afterSettlement(ctx, m, settled)
	}
	return TapResult{Tap: stored, Disqualified: true, Reason: reason, WaitingForOpponent: settled == nil}, nil
}

func (o *Orchestrator) opponentTapped(m *Match, idx int) bool {
	if idx == 1 {
		return m.Player2ReactionMs != nil
	}
	return m.Player1ReactionMs != nil
}

type settlement struct {
	outcome  Outcome
	winnerID *string
	loserID  *string
}

// settle resolves the outcome from the in-memory reaction snapshot and writes
// the completion inside the caller's transaction.
func (o *Orchestrator) settle(ctx context.Context, tx pgx.Tx, m *Match) (*settlement, error) {
	outcome := DetermineOutcome(o.summaryFor(m, 1), o.summaryFor(m, 2))
	return o.complete(ctx, tx, m, outcome)
}

// complete writes the settlement for an already-determined outcome.
func (o *Orchestrator) complete(ctx context.Context, tx pgx.Tx, m *Match, outcome Outcome) (*settlement, error) {
	s := &settlement{outcome: outcome}

	params := CompleteParams{MatchID: m.ID, ResultType: outcome.ResultType}
	switch outcome.WinnerIdx {
	case 1:
		s.winnerID, s.loserID = &m.Player1ID, &m.Player2ID
		params.WinnerWallet, params.LoserWallet = &m.Player1Wallet, &m.Player2Wallet
	case 2:
		s.winnerID, s.loserID = &m.Player2ID, &m.Player1ID
		params.WinnerWallet, params.LoserWallet = &m.Player2Wallet, &m.Player1Wallet
	}
	params.WinnerID = s.winnerID

	if !m.Free() {
		deadline := o.clock.Now().Add(o.cfg.ClaimWindow)
		params.ClaimDeadline = &deadline
		status := ClaimExpired
		if s.winnerID != nil {
			status = ClaimUnclaimed
			fee := m.Pot().
				Mul(decimal.NewFromInt(o.cfg.PlatformFeePercent)).
				Div(decimal.NewFromInt(100))
			params.PlatformFee = &fee
		}
		params.ClaimStatus = &status
	}

	if err := o.repo.Complete(ctx, tx, params); err != nil {
		return nil, err
	}

	if s.winnerID != nil {
		winnerReaction := o.reactionFor(m, outcome.WinnerIdx)
		loserReaction := o.reactionFor(m, 3-outcome.WinnerIdx)
		if err := o.repo.UpdateUserStats(ctx, tx, *s.winnerID, true, winnerReaction); err != nil {
			return nil, err
		}
		if err := o.repo.UpdateUserStats(ctx, tx, *s.loserID, false, loserReaction); err != nil {
			return nil, err
		}
	}

	if outcome.Refund && !m.Free() {
		if err := o.openRefunds(ctx, tx, m, outcome.ResultType); err != nil {
			return nil, err
		}
	}

	o.audit(ctx, tx, m, nil, "match.completed", map[string]any{
		"result_type": outcome.ResultType,
		"winner_idx":  outcome.WinnerIdx,
		"refund":      outcome.Refund,
	})
	return s, nil
}

// afterSettlement runs post-commit side effects: session cleanup, metrics and
// the advisory anti-cheat inspection.
func (o *Orchestrator) afterSettlement(ctx context.Context, m *Match, s *settlement) {
	o.metrics.MatchesCompleted.WithLabelValues(s.outcome.ResultType).Inc()
	o.clearSessions(ctx, m)

	o.log.Info("match completed",
		zap.String("match_id", m.ID),
		zap.String("correlation_id", CorrelationID(m.ID, m.CreatedAt)),
		zap.String("result_type", s.outcome.ResultType))

	if o.detector != nil && s.winnerID != nil {
		winnerID := *s.winnerID
		go o.detector.Inspect(context.WithoutCancel(ctx), winnerID)
	}
}

// SettleExpiredWindow finishes a started match whose tap window closed with
// at most one tap recorded.
func (o *Orchestrator) SettleExpiredWindow(ctx context.Context, matchID string) error {
	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m, err := o.repo.GetForUpdate(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if m.Status != StateStarted {
		return nil
	}

	settled, err := o.complete(ctx, tx, &m, DetermineOutcome(o.summaryFor(&m, 1), o.summaryFor(&m, 2)))
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("match: commit window settlement: %w", err)
	}
	o.afterSettlement(ctx, &m, settled)
	return nil
}

// CancelWithRefund terminates a non-terminal match and opens refund
// eligibility for confirmed deposits. Safe to call on already-terminal
// matches.
func (o *Orchestrator) CancelWithRefund(ctx context.Context, matchID, reason string) error {
	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m, err := o.repo.GetForUpdate(ctx, tx, matchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if m.Status.Terminal() {
		return nil
	}

	if err := o.repo.Cancel(ctx, tx, matchID, reason, StateCancelled); err != nil {
		return err
	}
	if !m.Free() {
		if err := o.openRefunds(ctx, tx, &m, reason); err != nil {
			return err
		}
	}
	o.audit(ctx, tx, &m, nil, "match.cancelled", map[string]any{"reason": reason})
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("match: commit cancel: %w", err)
	}

	o.metrics.MatchesCancelled.WithLabelValues(reason).Inc()
	o.clearSessions(ctx, &m)
	o.log.Info("match cancelled",
		zap.String("match_id", matchID),
		zap.String("correlation_id", CorrelationID(m.ID, m.CreatedAt)),
		zap.String("reason", reason))
	return nil
}

// cancelTerminal is the slim cancel used before the match ever left MATCHED.
func (o *Orchestrator) cancelTerminal(ctx context.Context, matchID, reason string) error {
	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := o.repo.Cancel(ctx, tx, matchID, reason, StateCancelled); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ClaimResult reports the settlement transaction for a successful claim.
type ClaimResult struct {
	TxHash string
}

// Claim pays out the winner. The escrow call runs through the idempotent
// client before the claim flag flips, so a crash between the two replays
// safely from the ledger.
func (o *Orchestrator) Claim(ctx context.Context, matchID, userID string) (ClaimResult, error) {
	m, err := o.repo.GetByID(ctx, matchID)
	if err != nil {
		return ClaimResult{}, err
	}
	if m.PlayerIndex(userID) == 0 {
		return ClaimResult{}, ErrNotParticipant
	}
	if m.Status != StateCompleted || m.WinnerID == nil || *m.WinnerID != userID {
		return ClaimResult{}, ErrNotWinner
	}
	if m.ClaimStatus == nil || *m.ClaimStatus == ClaimExpired ||
		(m.ClaimDeadline != nil && o.clock.Now().After(*m.ClaimDeadline)) {
		return ClaimResult{}, ErrClaimWindowClosed
	}
	if *m.ClaimStatus == ClaimClaimed {
		return ClaimResult{}, ErrAlreadyClaimed
	}
	if m.WinnerWallet == nil {
		return ClaimResult{}, fmt.Errorf("match: winner wallet missing")
	}

	res, err := o.escrow.CompleteMatch(ctx, matchID, *m.WinnerWallet)
	if err != nil {
		return ClaimResult{}, err
	}
	if !res.OK {
		return ClaimResult{}, fmt.Errorf("match: escrow payout rejected: %s", res.Err)
	}

	tx, err := o.repo.Begin(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	defer tx.Rollback(ctx)
	if _, err := o.repo.TransitionClaim(ctx, tx, matchID, ClaimUnclaimed, ClaimClaimed); err != nil {
		return ClaimResult{}, err
	}
	o.audit(ctx, tx, &m, &userID, "match.claimed", map[string]any{"tx_hash": res.TxHash})
	if err := tx.Commit(ctx); err != nil {
		return ClaimResult{}, fmt.Errorf("match: commit claim: %w", err)
	}

	o.log.Info("winnings claimed",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.String("tx_hash", res.TxHash))
	return ClaimResult{TxHash: res.TxHash}, nil
}

// ProcessRefund sends both deposits back through escrow for a cancelled or
// refund-eligible match and settles the linked intents. Callable by either
// participant or the expiration worker. Cancellations refund the full
// deposits; tie-class completions split the pot net of the platform fee.
func (o *Orchestrator) ProcessRefund(ctx context.Context, matchID, userID string) (ClaimResult, error) {
	m, err := o.repo.GetByID(ctx, matchID)
	if err != nil {
		return ClaimResult{}, err
	}
	if userID != "" && m.PlayerIndex(userID) == 0 {
		return ClaimResult{}, ErrNotParticipant
	}
	if m.Free() {
		return ClaimResult{}, fmt.Errorf("match: nothing to refund")
	}
	split := m.Status == StateCompleted && m.ResultType != nil && refundResult(*m.ResultType)
	if !split && m.Status != StateCancelled {
		return ClaimResult{}, fmt.Errorf("%w: refund in %s", ErrInvalidTransition, m.Status)
	}

	var res escrow.Result
	if split {
		res, err = o.escrow.SplitPot(ctx, matchID)
	} else {
		res, err = o.escrow.CancelMatch(ctx, matchID)
	}
	if err != nil {
		return ClaimResult{}, err
	}
	if !res.OK {
		return ClaimResult{}, fmt.Errorf("match: escrow refund rejected: %s", res.Err)
	}

	if _, err := o.payments.CompleteEligibleRefunds(ctx, matchID); err != nil {
		return ClaimResult{}, err
	}
	if err := o.repo.Audit(ctx, o.repo.pool, &m.ID, nil, "match.refunded",
		CorrelationID(m.ID, m.CreatedAt), map[string]any{"tx_hash": res.TxHash}); err != nil {
		o.log.Warn("audit refund failed", zap.String("match_id", matchID), zap.Error(err))
	}
	return ClaimResult{TxHash: res.TxHash}, nil
}

// Result returns the finished match with both tap events, for the result
// endpoint.
func (o *Orchestrator) Result(ctx context.Context, matchID, userID string) (Match, []TapEvent, error) {
	m, err := o.repo.GetByID(ctx, matchID)
	if err != nil {
		return Match{}, nil, err
	}
	if m.PlayerIndex(userID) == 0 {
		return Match{}, nil, ErrNotParticipant
	}
	taps, err := o.repo.Taps(ctx, matchID)
	if err != nil {
		return Match{}, nil, err
	}
	return m, taps, nil
}

// Heartbeat stamps the caller's liveness on the match row.
func (o *Orchestrator) Heartbeat(ctx context.Context, matchID, userID string) error {
	return o.repo.Heartbeat(ctx, matchID, userID)
}

// History lists the caller's finished matches.
func (o *Orchestrator) History(ctx context.Context, userID string, limit int) ([]Match, error) {
	return o.repo.History(ctx, userID, limit)
}

// openRefunds marks confirmed intents refund-eligible inside the caller's
// transaction.
func (o *Orchestrator) openRefunds(ctx context.Context, tx pgx.Tx, m *Match, reason string) error {
	deadline := o.clock.Now().Add(o.cfg.RefundWindow)
	return o.payments.MarkRefundEligible(ctx, tx, m.ID, reason, deadline)
}

func (o *Orchestrator) clearSessions(ctx context.Context, m *Match) {
	for _, uid := range []string{m.Player1ID, m.Player2ID} {
		if err := o.sessions.ClearActiveMatch(ctx, uid); err != nil {
			o.log.Warn("clear active match failed", zap.String("user_id", uid), zap.Error(err))
		}
	}
}

func (o *Orchestrator) audit(ctx context.Context, exec Execer, m *Match, userID *string, eventType string, payload map[string]any) {
	if err := o.repo.Audit(ctx, exec, &m.ID, userID, eventType,
		CorrelationID(m.ID, m.CreatedAt), payload); err != nil {
		o.log.Warn("audit write failed",
			zap.String("match_id", m.ID),
			zap.String("type", eventType),
			zap.Error(err))
	}
}

func (o *Orchestrator) summaryFor(m *Match, idx int) *TapSummary {
	var reaction *int64
	var dq bool
	if idx == 1 {
		reaction, dq = m.Player1ReactionMs, m.Player1Disqualified
	} else {
		reaction, dq = m.Player2ReactionMs, m.Player2Disqualified
	}
	if reaction == nil {
		return nil
	}
	return &TapSummary{
		ReactionMs:   *reaction,
		Valid:        !dq && *reaction >= 0 && *reaction <= o.cfg.MaxReactionMs,
		Disqualified: dq,
	}
}

func (o *Orchestrator) reactionFor(m *Match, idx int) *int64 {
	s := o.summaryFor(m, idx)
	if s == nil || !s.Valid {
		return nil
	}
	r := s.ReactionMs
	return &r
}

func refundResult(resultType string) bool {
	switch resultType {
	case ResultTie, ResultBothDisqualified, ResultBothTimeoutTie:
		return true
	}
	return false
}
