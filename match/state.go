package match

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a match.
type State string

const (
	StateMatched   State = "matched"
	StateFunding   State = "funding"
	StateReady     State = "ready"
	StateStarted   State = "started"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateRefunded  State = "refunded"
)

// transitions is the full edge set of the lifecycle machine. Anything not
// listed here is rejected, including self-loops.
var transitions = map[State][]State{
	StateMatched: {StateFunding, StateReady, StateCancelled},
	StateFunding: {StateReady, StateCancelled, StateRefunded},
	StateReady:   {StateStarted, StateCancelled, StateRefunded},
	StateStarted: {StateCompleted, StateCancelled, StateRefunded},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateRefunded:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateMatched, StateFunding, StateReady, StateStarted,
		StateCompleted, StateCancelled, StateRefunded:
		return true
	}
	return false
}

// Phase is the client-facing sub-state derived from a started match and the
// server clock. It never reveals the exact signal time before it fires.
type Phase string

const (
	PhaseWaitingForGo Phase = "waiting_for_go"
	PhaseCountdown    Phase = "countdown"
	PhaseGo           Phase = "go"
)

// DerivePhase maps a started match onto its sub-state at nowMillis.
// countdownMs is how far ahead of the signal the countdown surfaces.
func DerivePhase(greenLight, nowMillis, countdownMs int64) Phase {
	switch {
	case nowMillis >= greenLight:
		return PhaseGo
	case nowMillis >= greenLight-countdownMs:
		return PhaseCountdown
	default:
		return PhaseWaitingForGo
	}
}

// CorrelationID ties every log line and audit row for one match run together.
// The creation timestamp disambiguates id reuse across environments.
func CorrelationID(matchID string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%d", matchID, createdAt.UnixMilli())
}
