// Package metrics holds the prometheus collectors shared by the orchestrator,
// the payment worker, and the circuit breakers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the service registers.
type Metrics struct {
	MatchesCreated   prometheus.Counter
	MatchesCompleted *prometheus.CounterVec
	MatchesCancelled *prometheus.CounterVec
	TapsRecorded     *prometheus.CounterVec

	QueueDepth   prometheus.Gauge
	PairsMatched prometheus.Counter

	PaymentCycles    prometheus.Counter
	PaymentLeased    prometheus.Counter
	PaymentProcessed *prometheus.CounterVec
	PaymentStale     prometheus.Counter

	BreakerState *prometheus.GaugeVec
}

// New registers every collector against reg and returns the bundle. Tests can
// pass a throwaway registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MatchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapduel_matches_created_total",
			Help: "Matches created by the orchestrator.",
		}),
		MatchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapduel_matches_completed_total",
			Help: "Completed matches by result type.",
		}, []string{"result_type"}),
		MatchesCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapduel_matches_cancelled_total",
			Help: "Cancelled matches by reason.",
		}, []string{"reason"}),
		TapsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapduel_taps_recorded_total",
			Help: "Tap events by validity class.",
		}, []string{"class"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tapduel_queue_depth",
			Help: "Players currently searching for a match.",
		}),
		PairsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapduel_queue_pairs_matched_total",
			Help: "Pairs produced by the matchmaking sweep.",
		}),
		PaymentCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapduel_payment_worker_cycles_total",
			Help: "Payment worker poll cycles.",
		}),
		PaymentLeased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapduel_payment_intents_leased_total",
			Help: "Payment intents leased for processing.",
		}),
		PaymentProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapduel_payment_intents_processed_total",
			Help: "Payment intent processing outcomes.",
		}, []string{"outcome"}),
		PaymentStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapduel_payment_intents_stale_total",
			Help: "Payment intents expired for never producing a transaction.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tapduel_breaker_state",
			Help: "Circuit breaker state per target (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}),
	}

	reg.MustRegister(
		m.MatchesCreated, m.MatchesCompleted, m.MatchesCancelled, m.TapsRecorded,
		m.QueueDepth, m.PairsMatched,
		m.PaymentCycles, m.PaymentLeased, m.PaymentProcessed, m.PaymentStale,
		m.BreakerState,
	)
	return m
}

// NewNop returns a bundle registered against a private registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
