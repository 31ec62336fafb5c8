package anticheat

import "time"

// Timing limits. Reactions are server-measured milliseconds relative to the
// green light.
const (
	MinHumanReactionMs = 80
	MaxReactionMs      = 3000

	// SuspiciousReactionMs flags reactions fast enough to warrant an audit
	// entry without invalidating the tap.
	SuspiciousReactionMs = 100

	// TimingDiscrepancyLimitMs is the hard ceiling on |client - server|
	// reaction disagreement.
	TimingDiscrepancyLimitMs = 500

	spamTapLimit  = 3
	spamTapWindow = 500 * time.Millisecond
)

// Reason tags why a reaction failed validation.
type Reason string

const (
	ReasonFalseStart Reason = "false_start"
	ReasonTooFast    Reason = "too_fast"
	ReasonTimeout    Reason = "timeout"
)

// Verdict is the outcome of validating one reaction.
type Verdict struct {
	Valid      bool
	ReactionMs int64
	Reason     Reason
	Suspicious bool
}

// IsHumanReaction reports whether ms falls in the plausible human band.
func IsHumanReaction(ms int64) bool {
	return ms >= MinHumanReactionMs && ms <= MaxReactionMs
}

// ValidateReaction derives the reaction from server tap and signal instants
// and classifies it. The caller decides what a failed verdict means for the
// match; this function only judges plausibility.
func ValidateReaction(serverTapMs, signalMs int64) Verdict {
	reaction := serverTapMs - signalMs
	v := Verdict{ReactionMs: reaction}

	switch {
	case reaction < 0:
		v.Reason = ReasonFalseStart
	case reaction < MinHumanReactionMs:
		v.Reason = ReasonTooFast
	case reaction > MaxReactionMs:
		v.Reason = ReasonTimeout
	default:
		v.Valid = true
	}
	if reaction >= 0 && reaction < SuspiciousReactionMs {
		v.Suspicious = true
	}
	return v
}

// CheckTimingDiscrepancy reports whether the client-reported reaction agrees
// with the server measurement. A false result is a hard rejection of the tap.
func CheckTimingDiscrepancy(clientReactionMs, serverReactionMs int64) bool {
	delta := clientReactionMs - serverReactionMs
	if delta < 0 {
		delta = -delta
	}
	return delta <= TimingDiscrepancyLimitMs
}

// DetectSpamTapping reports whether count taps inside window looks like input
// flooding rather than play.
func DetectSpamTapping(count int, window time.Duration) bool {
	return count > spamTapLimit && window < spamTapWindow
}
