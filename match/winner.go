package match

// tieThresholdMs is the reaction delta at or under which two taps are
// indistinguishable.
const tieThresholdMs = 1

// TapSummary is the per-player input to outcome determination. A nil summary
// means the player never tapped before the window closed.
type TapSummary struct {
	ReactionMs   int64
	Valid        bool
	Disqualified bool
}

// Outcome is the settled result of a match. WinnerIdx is 1 or 2, or 0 when
// nobody wins; no-winner outcomes refund both stakes.
type Outcome struct {
	WinnerIdx  int
	ResultType string
	Refund     bool
}

// DetermineOutcome resolves a match from both players' tap summaries.
//
// With both taps present, disqualifications take precedence, then validity,
// then the reaction comparison. With a single tap the present player wins by
// timeout unless their own tap was a false start, which voids the match.
func DetermineOutcome(p1, p2 *TapSummary) Outcome {
	switch {
	case p1 == nil && p2 == nil:
		return Outcome{ResultType: ResultBothTimeoutTie, Refund: true}
	case p2 == nil:
		return soloOutcome(1, p1)
	case p1 == nil:
		return soloOutcome(2, p2)
	}

	switch {
	case p1.Disqualified && p2.Disqualified:
		return Outcome{ResultType: ResultBothDisqualified, Refund: true}
	case p1.Disqualified:
		return Outcome{WinnerIdx: 2, ResultType: ResultPlayer1Disqualified}
	case p2.Disqualified:
		return Outcome{WinnerIdx: 1, ResultType: ResultPlayer2Disqualified}
	}

	delta := p1.ReactionMs - p2.ReactionMs
	if delta < 0 {
		delta = -delta
	}

	switch {
	case !p1.Valid && !p2.Valid:
		// Both over the reaction limit. Within the tie threshold neither
		// gets the pot; otherwise the less slow player takes a slow win.
		if delta <= tieThresholdMs {
			return Outcome{ResultType: ResultBothTimeoutTie, Refund: true}
		}
		if p1.ReactionMs < p2.ReactionMs {
			return Outcome{WinnerIdx: 1, ResultType: ResultPlayer1SlowWin}
		}
		return Outcome{WinnerIdx: 2, ResultType: ResultPlayer2SlowWin}
	case !p1.Valid:
		return Outcome{WinnerIdx: 2, ResultType: ResultPlayer1Timeout}
	case !p2.Valid:
		return Outcome{WinnerIdx: 1, ResultType: ResultPlayer2Timeout}
	}

	if delta <= tieThresholdMs {
		return Outcome{ResultType: ResultTie, Refund: true}
	}
	if p1.ReactionMs < p2.ReactionMs {
		return Outcome{WinnerIdx: 1, ResultType: ResultNormalWin}
	}
	return Outcome{WinnerIdx: 2, ResultType: ResultNormalWin}
}

// soloOutcome settles a window expiry or abandonment where only one player
// tapped. A lone false start voids the match rather than rewarding the
// absentee.
func soloOutcome(idx int, tap *TapSummary) Outcome {
	switch {
	case tap.Disqualified:
		return Outcome{ResultType: ResultBothTimeoutTie, Refund: true}
	case tap.Valid:
		if idx == 1 {
			return Outcome{WinnerIdx: 1, ResultType: ResultPlayer2Timeout}
		}
		return Outcome{WinnerIdx: 2, ResultType: ResultPlayer1Timeout}
	case idx == 1:
		return Outcome{WinnerIdx: 1, ResultType: ResultPlayer1SlowWin}
	default:
		return Outcome{WinnerIdx: 2, ResultType: ResultPlayer2SlowWin}
	}
}
