package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tapduel/match"
	"tapduel/matchqueue"
	"tapduel/payment"
	"tapduel/timing"
)

func fixedClock() *timing.FixedClock {
	return &timing.FixedClock{Instant: time.Now().UTC()}
}

func wallet() string { return "0x" + payment.NewReference() }

// armMatch walks a match to STARTED and returns the green light time.
func armMatch(t *testing.T, ctx context.Context, h *harness, m match.Match) int64 {
	t.Helper()
	if _, err := h.orch.Ready(ctx, m.ID, m.Player1ID); err != nil {
		t.Fatalf("player1 ready: %v", err)
	}
	res, err := h.orch.Ready(ctx, m.ID, m.Player2ID)
	if err != nil {
		t.Fatalf("player2 ready: %v", err)
	}
	if !res.BothReady || res.GreenLightTime == nil {
		t.Fatalf("expected armed signal, got %+v", res)
	}
	return *res.GreenLightTime
}

func TestStakedDuelLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	stake := decimal.NewFromInt(5)
	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())

	m, err := h.orch.CreateFromPair(ctx,
		match.PlayerRef{ID: u1, Wallet: "w1"},
		match.PlayerRef{ID: u2, Wallet: "w2"}, stake, nil)
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	if m.Status != match.StateFunding {
		t.Fatalf("staked match must park in funding, got %s", m.Status)
	}

	ref1 := h.confirmedIntent(t, ctx, u1, stake)
	res, err := h.orch.ConfirmStake(ctx, m.ID, u1, ref1)
	if err != nil {
		t.Fatalf("confirm stake 1: %v", err)
	}
	if res.BothStaked || res.CanStart {
		t.Fatalf("one deposit must not unlock the match: %+v", res)
	}

	ref2 := h.confirmedIntent(t, ctx, u2, stake)
	res, err = h.orch.ConfirmStake(ctx, m.ID, u2, ref2)
	if err != nil {
		t.Fatalf("confirm stake 2: %v", err)
	}
	if !res.BothStaked || !res.CanStart {
		t.Fatalf("second deposit must unlock the match: %+v", res)
	}

	green := armMatch(t, ctx, h, m)
	delay := green - clock.NowMillis() - 3000
	if delay < 2000 || delay > 5000 {
		t.Fatalf("signal delay %dms outside configured range", delay)
	}

	clock.Instant = time.UnixMilli(green + 150)
	tap1, err := h.orch.Tap(ctx, m.ID, u1, nil)
	if err != nil {
		t.Fatalf("tap 1: %v", err)
	}
	if tap1.Tap.ReactionMs != 150 || !tap1.WaitingForOpponent {
		t.Fatalf("unexpected first tap: %+v", tap1)
	}

	clock.Advance(70 * time.Millisecond)
	tap2, err := h.orch.Tap(ctx, m.ID, u2, nil)
	if err != nil {
		t.Fatalf("tap 2: %v", err)
	}
	if tap2.WaitingForOpponent {
		t.Fatal("second tap must settle the match")
	}

	final, err := h.repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != match.StateCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.WinnerID == nil || *final.WinnerID != u1 {
		t.Fatalf("faster player must win, winner = %v", final.WinnerID)
	}
	if final.ResultType == nil || *final.ResultType != match.ResultNormalWin {
		t.Fatalf("result = %v, want normal_win", final.ResultType)
	}
	if final.PlatformFee == nil || !final.PlatformFee.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("platform fee = %v, want 3%% of the pot", final.PlatformFee)
	}
	if final.ClaimStatus == nil || *final.ClaimStatus != match.ClaimUnclaimed {
		t.Fatalf("claim status = %v, want unclaimed", final.ClaimStatus)
	}

	if _, err := h.orch.Claim(ctx, m.ID, u2); !errors.Is(err, match.ErrNotWinner) {
		t.Fatalf("loser claim: got %v, want ErrNotWinner", err)
	}
	claim, err := h.orch.Claim(ctx, m.ID, u1)
	if err != nil {
		t.Fatalf("winner claim: %v", err)
	}
	if claim.TxHash == "" {
		t.Fatal("claim must surface the settlement tx hash")
	}
	if _, err := h.orch.Claim(ctx, m.ID, u1); !errors.Is(err, match.ErrAlreadyClaimed) {
		t.Fatalf("repeat claim: got %v, want ErrAlreadyClaimed", err)
	}

	info, _ := h.escrow.GetMatch(ctx, m.ID)
	if info == nil || !info.Completed {
		t.Fatal("escrow payout did not land")
	}

	var ledgerCount int
	if err := h.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE match_id = $1 AND kind = 'complete'`,
		m.ID).Scan(&ledgerCount); err != nil {
		t.Fatal(err)
	}
	if ledgerCount != 1 {
		t.Fatalf("ledger rows for completion = %d, want exactly 1", ledgerCount)
	}
}

func TestTieOpensRefunds(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	stake := decimal.NewFromInt(2)
	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())

	m, err := h.orch.CreateFromPair(ctx,
		match.PlayerRef{ID: u1, Wallet: "w1"},
		match.PlayerRef{ID: u2, Wallet: "w2"}, stake, nil)
	if err != nil {
		t.Fatal(err)
	}
	ref1 := h.confirmedIntent(t, ctx, u1, stake)
	ref2 := h.confirmedIntent(t, ctx, u2, stake)
	if _, err := h.orch.ConfirmStake(ctx, m.ID, u1, ref1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ConfirmStake(ctx, m.ID, u2, ref2); err != nil {
		t.Fatal(err)
	}

	green := armMatch(t, ctx, h, m)
	clock.Instant = time.UnixMilli(green + 200)
	if _, err := h.orch.Tap(ctx, m.ID, u1, nil); err != nil {
		t.Fatal(err)
	}
	// Same server instant: identical reactions.
	if _, err := h.orch.Tap(ctx, m.ID, u2, nil); err != nil {
		t.Fatal(err)
	}

	final, err := h.repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.ResultType == nil || *final.ResultType != match.ResultTie {
		t.Fatalf("result = %v, want tie", final.ResultType)
	}
	if final.WinnerID != nil {
		t.Fatalf("tie must have no winner, got %v", *final.WinnerID)
	}

	var eligible int
	if err := h.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_intents WHERE match_id = $1 AND refund_status = $2`,
		m.ID, payment.RefundEligible).Scan(&eligible); err != nil {
		t.Fatal(err)
	}
	if eligible != 2 {
		t.Fatalf("refund-eligible intents = %d, want 2", eligible)
	}

	if _, err := h.orch.ProcessRefund(ctx, m.ID, u1); err != nil {
		t.Fatalf("process refund: %v", err)
	}
	var completed int
	if err := h.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_intents WHERE match_id = $1 AND refund_status = $2`,
		m.ID, payment.RefundCompleted).Scan(&completed); err != nil {
		t.Fatal(err)
	}
	if completed != 2 {
		t.Fatalf("refunded intents = %d, want 2", completed)
	}
	// Ties settle through the pot split, net of the platform fee.
	info, _ := h.escrow.GetMatch(ctx, m.ID)
	if info == nil || !info.Completed {
		t.Fatal("escrow pot split did not land")
	}
}

func TestEarlyTapDisqualification(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())

	m, err := h.orch.CreateFromPair(ctx,
		match.PlayerRef{ID: u1, Wallet: "w1"},
		match.PlayerRef{ID: u2, Wallet: "w2"}, decimal.Zero, nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != match.StateReady {
		t.Fatalf("free match must skip funding, got %s", m.Status)
	}

	green := armMatch(t, ctx, h, m)

	// 200ms before the signal: outside clock-sync tolerance, a false start.
	clock.Instant = time.UnixMilli(green - 200)
	early, err := h.orch.Tap(ctx, m.ID, u1, nil)
	if err != nil {
		t.Fatalf("early tap: %v", err)
	}
	if !early.Disqualified || early.Reason != "early_tap" {
		t.Fatalf("expected disqualification, got %+v", early)
	}
	if !early.WaitingForOpponent {
		t.Fatal("false start must not end the match")
	}

	clock.Instant = time.UnixMilli(green + 120)
	tap2, err := h.orch.Tap(ctx, m.ID, u2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tap2.WaitingForOpponent {
		t.Fatal("valid opposing tap must settle")
	}

	final, err := h.repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.WinnerID == nil || *final.WinnerID != u2 {
		t.Fatalf("winner = %v, want the clean tapper", final.WinnerID)
	}
	if final.ResultType == nil || *final.ResultType != match.ResultPlayer1Timeout {
		t.Fatalf("result = %v, want player1_timeout", final.ResultType)
	}
	if final.ClaimStatus != nil {
		t.Fatal("free match must not carry claim state")
	}
}

func TestDuplicateTapFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())

	m, err := h.orch.CreateFromPair(ctx,
		match.PlayerRef{ID: u1, Wallet: "w1"},
		match.PlayerRef{ID: u2, Wallet: "w2"}, decimal.Zero, nil)
	if err != nil {
		t.Fatal(err)
	}
	green := armMatch(t, ctx, h, m)

	clock.Instant = time.UnixMilli(green + 100)
	first, err := h.orch.Tap(ctx, m.ID, u1, nil)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(500 * time.Millisecond)
	second, err := h.orch.Tap(ctx, m.ID, u1, nil)
	if err != nil {
		t.Fatalf("duplicate tap must not error: %v", err)
	}
	if second.Tap.ReactionMs != first.Tap.ReactionMs {
		t.Fatalf("duplicate tap returned %dms, first write was %dms",
			second.Tap.ReactionMs, first.Tap.ReactionMs)
	}

	var tapCount int
	if err := h.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tap_events WHERE match_id = $1 AND user_id = $2`,
		m.ID, u1).Scan(&tapCount); err != nil {
		t.Fatal(err)
	}
	if tapCount != 1 {
		t.Fatalf("tap rows = %d, want 1", tapCount)
	}

	// Finish the duel so later sweeps see only terminal matches.
	clock.Advance(50 * time.Millisecond)
	if _, err := h.orch.Tap(ctx, m.ID, u2, nil); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentTapsSingleWriter(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())

	m, err := h.orch.CreateFromPair(ctx,
		match.PlayerRef{ID: u1, Wallet: "w1"},
		match.PlayerRef{ID: u2, Wallet: "w2"}, decimal.Zero, nil)
	if err != nil {
		t.Fatal(err)
	}
	green := armMatch(t, ctx, h, m)
	clock.Instant = time.UnixMilli(green + 90)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.orch.Tap(ctx, m.ID, u1, nil)
		}()
	}
	wg.Wait()

	var tapCount int
	if err := h.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tap_events WHERE match_id = $1 AND user_id = $2`,
		m.ID, u1).Scan(&tapCount); err != nil {
		t.Fatal(err)
	}
	if tapCount != 1 {
		t.Fatalf("concurrent taps wrote %d rows, want 1", tapCount)
	}

	if _, err := h.orch.Tap(ctx, m.ID, u2, nil); err != nil {
		t.Fatal(err)
	}
}

func TestExpiredWindowSettlesOneSided(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())

	m, err := h.orch.CreateFromPair(ctx,
		match.PlayerRef{ID: u1, Wallet: "w1"},
		match.PlayerRef{ID: u2, Wallet: "w2"}, decimal.Zero, nil)
	if err != nil {
		t.Fatal(err)
	}
	green := armMatch(t, ctx, h, m)

	clock.Instant = time.UnixMilli(green + 300)
	if _, err := h.orch.Tap(ctx, m.ID, u1, nil); err != nil {
		t.Fatal(err)
	}

	// Window closes with the opponent silent.
	if err := h.orch.SettleExpiredWindow(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	final, err := h.repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != match.StateCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.WinnerID == nil || *final.WinnerID != u1 {
		t.Fatalf("winner = %v, want the only tapper", final.WinnerID)
	}
	if final.ResultType == nil || *final.ResultType != match.ResultPlayer2Timeout {
		t.Fatalf("result = %v, want player2_timeout", final.ResultType)
	}
}

func TestReadyTimeoutCancelsWithRefunds(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	stake := decimal.NewFromInt(3)
	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())

	m, err := h.orch.CreateFromPair(ctx,
		match.PlayerRef{ID: u1, Wallet: "w1"},
		match.PlayerRef{ID: u2, Wallet: "w2"}, stake, nil)
	if err != nil {
		t.Fatal(err)
	}
	ref1 := h.confirmedIntent(t, ctx, u1, stake)
	ref2 := h.confirmedIntent(t, ctx, u2, stake)
	if _, err := h.orch.ConfirmStake(ctx, m.ID, u1, ref1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ConfirmStake(ctx, m.ID, u2, ref2); err != nil {
		t.Fatal(err)
	}

	// Neither player readies up; the sweep reaps the match.
	watchdog := match.NewWatchdog(h.repo, h.orch, h.payments, match.WatchdogConfig{
		ReadyTimeout:        300 * time.Millisecond,
		FundingTimeout:      time.Hour,
		TapWindowMs:         10000,
		DisconnectThreshold: time.Hour,
	}, zap.NewNop())

	time.Sleep(400 * time.Millisecond)
	watchdog.RunSweep(ctx)

	final, err := h.repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != match.StateCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.CancelReason == nil || *final.CancelReason != match.CancelReadyTimeout {
		t.Fatalf("cancel reason = %v, want ready_timeout", final.CancelReason)
	}

	var eligible int
	if err := h.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_intents WHERE match_id = $1 AND refund_status = $2`,
		m.ID, payment.RefundEligible).Scan(&eligible); err != nil {
		t.Fatal(err)
	}
	if eligible != 2 {
		t.Fatalf("refund-eligible intents = %d, want 2", eligible)
	}
}

func TestQueuePairsSameStakeFIFO(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock()
	h := newHarness(clock)

	u1 := h.newUser(t, ctx, wallet())
	u2 := h.newUser(t, ctx, wallet())
	u3 := h.newUser(t, ctx, wallet())

	stake := decimal.NewFromInt(7)
	other := decimal.NewFromInt(9)

	if _, err := h.queue.Enqueue(ctx, u1, stake); err != nil {
		t.Fatal(err)
	}
	// Different stake pool: must not pair with u1.
	if _, err := h.queue.Enqueue(ctx, u3, other); err != nil {
		t.Fatal(err)
	}
	res, err := h.queue.Enqueue(ctx, u2, stake)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "matched" || res.MatchID == "" {
		t.Fatalf("same-stake pair must match immediately: %+v", res)
	}

	m, err := h.repo.GetByID(ctx, res.MatchID)
	if err != nil {
		t.Fatal(err)
	}
	if m.PlayerIndex(u1) == 0 || m.PlayerIndex(u2) == 0 {
		t.Fatal("paired match must contain both same-stake players")
	}
	if m.PlayerIndex(u3) != 0 {
		t.Fatal("different-stake player must not be drafted")
	}

	// Both players are now gated out of the queue.
	if _, err := h.queue.Enqueue(ctx, u1, stake); !errors.Is(err, matchqueue.ErrActiveMatch) {
		t.Fatalf("re-enqueue with active match: got %v, want ErrActiveMatch", err)
	}

	// Clean up the open match and the leftover entry.
	if err := h.orch.CancelWithRefund(ctx, res.MatchID, match.CancelAbandoned); err != nil {
		t.Fatal(err)
	}
	if err := h.queue.Cancel(ctx, u3, other); err != nil {
		t.Fatal(err)
	}
}
