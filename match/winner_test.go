package match

import "testing"

func tap(reaction int64, valid, dq bool) *TapSummary {
	return &TapSummary{ReactionMs: reaction, Valid: valid, Disqualified: dq}
}

func TestDetermineOutcomeBothPresent(t *testing.T) {
	cases := []struct {
		name   string
		p1, p2 *TapSummary
		winner int
		result string
		refund bool
	}{
		{"faster valid wins", tap(180, true, false), tap(230, true, false), 1, ResultNormalWin, false},
		{"faster valid wins reversed", tap(340, true, false), tap(210, true, false), 2, ResultNormalWin, false},
		{"one millisecond apart is a tie", tap(250, true, false), tap(251, true, false), 0, ResultTie, true},
		{"exact same reaction is a tie", tap(200, true, false), tap(200, true, false), 0, ResultTie, true},
		{"two milliseconds apart is not a tie", tap(250, true, false), tap(252, true, false), 1, ResultNormalWin, false},
		{"both disqualified", tap(DisqualifiedReactionMs, false, true), tap(DisqualifiedReactionMs, false, true), 0, ResultBothDisqualified, true},
		{"p1 disqualified", tap(DisqualifiedReactionMs, false, true), tap(220, true, false), 2, ResultPlayer1Disqualified, false},
		{"p2 disqualified", tap(190, true, false), tap(DisqualifiedReactionMs, false, true), 1, ResultPlayer2Disqualified, false},
		{"dq beats slow opponent", tap(3500, false, false), tap(DisqualifiedReactionMs, false, true), 1, ResultPlayer2Disqualified, false},
		{"both too slow close together", tap(3400, false, false), tap(3401, false, false), 0, ResultBothTimeoutTie, true},
		{"both too slow p1 faster", tap(3100, false, false), tap(3600, false, false), 1, ResultPlayer1SlowWin, false},
		{"both too slow p2 faster", tap(3800, false, false), tap(3200, false, false), 2, ResultPlayer2SlowWin, false},
		{"only p1 too slow", tap(3300, false, false), tap(400, true, false), 2, ResultPlayer1Timeout, false},
		{"only p2 too slow", tap(500, true, false), tap(3100, false, false), 1, ResultPlayer2Timeout, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetermineOutcome(tc.p1, tc.p2)
			if got.WinnerIdx != tc.winner {
				t.Errorf("winner = %d, want %d", got.WinnerIdx, tc.winner)
			}
			if got.ResultType != tc.result {
				t.Errorf("result = %q, want %q", got.ResultType, tc.result)
			}
			if got.Refund != tc.refund {
				t.Errorf("refund = %v, want %v", got.Refund, tc.refund)
			}
		})
	}
}

func TestDetermineOutcomeOneSided(t *testing.T) {
	cases := []struct {
		name   string
		p1, p2 *TapSummary
		winner int
		result string
		refund bool
	}{
		{"neither tapped", nil, nil, 0, ResultBothTimeoutTie, true},
		{"only p1 tapped validly", tap(240, true, false), nil, 1, ResultPlayer2Timeout, false},
		{"only p2 tapped validly", nil, tap(240, true, false), 2, ResultPlayer1Timeout, false},
		{"lone false start voids the match", tap(DisqualifiedReactionMs, false, true), nil, 0, ResultBothTimeoutTie, true},
		{"lone slow tap still wins", nil, tap(3200, false, false), 2, ResultPlayer2SlowWin, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetermineOutcome(tc.p1, tc.p2)
			if got.WinnerIdx != tc.winner {
				t.Errorf("winner = %d, want %d", got.WinnerIdx, tc.winner)
			}
			if got.ResultType != tc.result {
				t.Errorf("result = %q, want %q", got.ResultType, tc.result)
			}
			if got.Refund != tc.refund {
				t.Errorf("refund = %v, want %v", got.Refund, tc.refund)
			}
		})
	}
}

func TestDerivePhase(t *testing.T) {
	const green = int64(1_000_000)
	cases := []struct {
		name string
		now  int64
		want Phase
	}{
		{"long before countdown", green - 10_000, PhaseWaitingForGo},
		{"just before countdown", green - 3_001, PhaseWaitingForGo},
		{"countdown boundary", green - 3_000, PhaseCountdown},
		{"mid countdown", green - 1_500, PhaseCountdown},
		{"signal instant", green, PhaseGo},
		{"after signal", green + 500, PhaseGo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DerivePhase(green, tc.now, 3_000); got != tc.want {
				t.Errorf("DerivePhase(%d) = %q, want %q", tc.now, got, tc.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateMatched, StateFunding},
		{StateMatched, StateReady},
		{StateMatched, StateCancelled},
		{StateFunding, StateReady},
		{StateFunding, StateCancelled},
		{StateFunding, StateRefunded},
		{StateReady, StateStarted},
		{StateReady, StateCancelled},
		{StateStarted, StateCompleted},
		{StateStarted, StateRefunded},
	}
	for _, e := range allowed {
		if !CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be allowed", e.from, e.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateMatched, StateStarted},
		{StateFunding, StateCompleted},
		{StateCompleted, StateStarted},
		{StateCancelled, StateReady},
		{StateRefunded, StateFunding},
		{StateStarted, StateStarted},
	}
	for _, e := range denied {
		if CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be rejected", e.from, e.to)
		}
	}

	for _, s := range []State{StateCompleted, StateCancelled, StateRefunded} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateMatched, StateFunding, StateReady, StateStarted} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
