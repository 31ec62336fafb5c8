// Package actors holds the concurrent workloads driven by the stress test.
// Each actor loops until stopped. Contention errors and killed backends are
// part of the exercise, so query failures back off instead of failing the
// run; the oracles decide whether the system stayed consistent.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tapduel/match"
	"tapduel/matchqueue"
	"tapduel/payment"
)

// Deps is the slice of the service the actors drive.
type Deps struct {
	Pool     *pgxpool.Pool
	Orch     *match.Orchestrator
	Queue    *matchqueue.Queue
	Payments *payment.Repository
}

func pause(minMs, jitterMs int) {
	time.Sleep(time.Duration(minMs+rand.Intn(jitterMs)) * time.Millisecond)
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Enqueuer keeps one player churning through the queue. The active-match gate
// rejects re-entry while the other actors finish the current duel.
func Enqueuer(ctx context.Context, d Deps, userID string, stake decimal.Decimal, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		// The active-match gate and queue races are expected rejections.
		if _, err := d.Queue.Enqueue(ctx, userID, stake); errors.Is(err, context.Canceled) {
			return nil
		}
		pause(20, 60)
	}
	return nil
}

// Funder confirms deposits for matches parked in FUNDING. Each missing stake
// gets a fresh confirmed intent, mimicking the payment oracle landing.
func Funder(ctx context.Context, d Deps, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		type pending struct {
			matchID, userID string
			stake           decimal.Decimal
		}
		var work []pending
		rows, err := d.Pool.Query(ctx, `
			SELECT id, player1_id, player2_id, player1_staked, player2_staked, stake_amount
			FROM matches WHERE status = 'funding' LIMIT 10`)
		if err != nil {
			pause(50, 50)
			continue
		}
		for rows.Next() {
			var id, p1, p2 string
			var s1, s2 bool
			var stake decimal.Decimal
			if err := rows.Scan(&id, &p1, &p2, &s1, &s2, &stake); err != nil {
				break
			}
			if !s1 {
				work = append(work, pending{id, p1, stake})
			}
			if !s2 {
				work = append(work, pending{id, p2, stake})
			}
		}
		rows.Close()

		for _, w := range work {
			ref := payment.NewReference()
			if _, err := d.Payments.Create(ctx, ref, w.userID, w.stake); err != nil {
				continue
			}
			txID := "oracle-" + ref
			if err := d.Payments.ApplyOracleResult(ctx, ref, "mined", payment.StatusConfirmed, &txID, nil); err != nil {
				continue
			}
			// Races with cancellation sweeps are expected.
			_, _ = d.Orch.ConfirmStake(ctx, w.matchID, w.userID, ref)
		}
		pause(30, 50)
	}
	return nil
}

// Readier flips ready flags for matches in READY, arming the signal when the
// second flag lands.
func Readier(ctx context.Context, d Deps, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		type entry struct{ matchID, userID string }
		var work []entry
		rows, err := d.Pool.Query(ctx, `
			SELECT id, player1_id, player2_id, player1_ready, player2_ready
			FROM matches WHERE status = 'ready' LIMIT 10`)
		if err != nil {
			pause(50, 50)
			continue
		}
		for rows.Next() {
			var id, p1, p2 string
			var r1, r2 bool
			if err := rows.Scan(&id, &p1, &p2, &r1, &r2); err != nil {
				break
			}
			if !r1 {
				work = append(work, entry{id, p1})
			}
			if !r2 {
				work = append(work, entry{id, p2})
			}
		}
		rows.Close()

		for _, w := range work {
			_, _ = d.Orch.Ready(ctx, w.matchID, w.userID)
		}
		pause(20, 40)
	}
	return nil
}

// Tapper taps for both players of started matches once the signal is live,
// with jitter so outcomes spread across wins, ties and slow taps. A small
// fraction fires early to exercise disqualification.
func Tapper(ctx context.Context, d Deps, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		type entry struct{ matchID, userID string }
		var work []entry
		now := time.Now().UnixMilli()
		rows, err := d.Pool.Query(ctx, `
			SELECT id, player1_id, player2_id, player1_reaction_ms, player2_reaction_ms, green_light_time
			FROM matches
			WHERE status = 'started' AND green_light_time IS NOT NULL
			LIMIT 10`)
		if err != nil {
			pause(30, 30)
			continue
		}
		for rows.Next() {
			var id, p1, p2 string
			var r1, r2 *int64
			var green int64
			if err := rows.Scan(&id, &p1, &p2, &r1, &r2, &green); err != nil {
				break
			}
			early := rand.Intn(20) == 0
			if green > now && !early {
				continue
			}
			if r1 == nil {
				work = append(work, entry{id, p1})
			}
			if r2 == nil {
				work = append(work, entry{id, p2})
			}
		}
		rows.Close()

		for _, w := range work {
			_, _ = d.Orch.Tap(ctx, w.matchID, w.userID, nil)
		}
		pause(10, 30)
	}
	return nil
}

// Claimer claims payouts for completed matches with a winner, occasionally
// retrying to exercise the already-claimed guard.
func Claimer(ctx context.Context, d Deps, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		type entry struct{ matchID, winnerID string }
		var work []entry
		rows, err := d.Pool.Query(ctx, `
			SELECT id, winner_id FROM matches
			WHERE status = 'completed' AND claim_status = 'unclaimed' AND winner_id IS NOT NULL
			LIMIT 10`)
		if err != nil {
			pause(50, 100)
			continue
		}
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.matchID, &e.winnerID); err != nil {
				break
			}
			work = append(work, e)
		}
		rows.Close()

		for _, w := range work {
			_, _ = d.Orch.Claim(ctx, w.matchID, w.winnerID)
			if rand.Intn(4) == 0 {
				_, _ = d.Orch.Claim(ctx, w.matchID, w.winnerID)
			}
		}
		pause(50, 100)
	}
	return nil
}

// Refunder pushes refunds for matches whose intents became refund-eligible.
func Refunder(ctx context.Context, d Deps, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var ids []string
		rows, err := d.Pool.Query(ctx, `
			SELECT DISTINCT m.id FROM matches m
			JOIN payment_intents p ON p.match_id = m.id
			WHERE p.refund_status = 'eligible'
			LIMIT 10`)
		if err != nil {
			pause(80, 120)
			continue
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				break
			}
			ids = append(ids, id)
		}
		rows.Close()

		for _, id := range ids {
			_, _ = d.Orch.ProcessRefund(ctx, id, "")
		}
		pause(80, 120)
	}
	return nil
}
