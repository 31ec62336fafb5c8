package anticheat

import (
	"testing"
	"time"
)

func TestIsHumanReaction(t *testing.T) {
	cases := []struct {
		ms   int64
		want bool
	}{
		{79, false},
		{80, true},
		{250, true},
		{3000, true},
		{3001, false},
		{-1, false},
	}
	for _, tc := range cases {
		if got := IsHumanReaction(tc.ms); got != tc.want {
			t.Errorf("IsHumanReaction(%d) = %v, want %v", tc.ms, got, tc.want)
		}
	}
}

func TestValidateReaction(t *testing.T) {
	const signal = 1_000_000

	cases := []struct {
		name       string
		tap        int64
		valid      bool
		reason     Reason
		suspicious bool
	}{
		{"false start", signal - 120, false, ReasonFalseStart, false},
		{"too fast", signal + 40, false, ReasonTooFast, true},
		{"fast but plausible", signal + 95, true, "", true},
		{"normal", signal + 240, true, "", false},
		{"at max", signal + MaxReactionMs, true, "", false},
		{"timeout", signal + MaxReactionMs + 1, false, ReasonTimeout, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ValidateReaction(tc.tap, signal)
			if v.Valid != tc.valid {
				t.Errorf("valid = %v, want %v", v.Valid, tc.valid)
			}
			if v.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", v.Reason, tc.reason)
			}
			if v.Suspicious != tc.suspicious {
				t.Errorf("suspicious = %v, want %v", v.Suspicious, tc.suspicious)
			}
			if v.ReactionMs != tc.tap-signal {
				t.Errorf("reaction = %d, want %d", v.ReactionMs, tc.tap-signal)
			}
		})
	}
}

func TestCheckTimingDiscrepancy(t *testing.T) {
	if !CheckTimingDiscrepancy(700, 250) {
		t.Error("450ms discrepancy should pass")
	}
	if !CheckTimingDiscrepancy(250, 750) {
		t.Error("exactly 500ms should pass")
	}
	if CheckTimingDiscrepancy(250, 751) {
		t.Error("501ms discrepancy must fail")
	}
	if CheckTimingDiscrepancy(900, 250) {
		t.Error("650ms discrepancy must fail")
	}
}

func TestDetectSpamTapping(t *testing.T) {
	if !DetectSpamTapping(4, 300*time.Millisecond) {
		t.Error("4 taps in 300ms is spam")
	}
	if DetectSpamTapping(3, 300*time.Millisecond) {
		t.Error("3 taps is below the limit")
	}
	if DetectSpamTapping(10, 600*time.Millisecond) {
		t.Error("window too wide to count as spam")
	}
}
