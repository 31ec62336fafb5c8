package test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tapduel/match"
	"tapduel/test/actors"
	"tapduel/test/chaos"
	"tapduel/test/oracles"
	"tapduel/timing"
)

// TestDuelConcurrency hammers the full lifecycle with concurrent players,
// background sweeps and killed database backends, checking the cross-table
// invariants every two seconds.
func TestDuelConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in -short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	h := newHarness(timing.SystemClock())
	deps := actors.Deps{Pool: h.pool, Orch: h.orch, Queue: h.queue, Payments: h.payments}

	// Half the players duel for free, half wager; stakes within a pool match.
	stakes := []decimal.Decimal{decimal.Zero, decimal.NewFromInt(1)}
	var players []struct {
		id    string
		stake decimal.Decimal
	}
	for i := 0; i < *flConcurrency*2; i++ {
		players = append(players, struct {
			id    string
			stake decimal.Decimal
		}{h.newUser(t, ctx, wallet()), stakes[i%len(stakes)]})
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()

	watchdog := match.NewWatchdog(h.repo, h.orch, h.payments, match.WatchdogConfig{
		SweepInterval:       500 * time.Millisecond,
		ReadyTimeout:        15 * time.Second,
		FundingTimeout:      30 * time.Second,
		TapWindowMs:         10000,
		DisconnectThreshold: time.Minute,
		GCInterval:          10 * time.Second,
		GCMaxAge:            5 * time.Minute,
	}, zap.NewNop())
	go func() { _ = h.queue.Run(loopCtx) }()
	go func() { _ = watchdog.Run(loopCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, p := range players {
		g.Go(func() error { return actors.Enqueuer(gctx, deps, p.id, p.stake, stop) })
	}
	g.Go(func() error { return actors.Funder(gctx, deps, stop) })
	g.Go(func() error { return actors.Readier(gctx, deps, stop) })
	g.Go(func() error { return actors.Tapper(gctx, deps, stop) })
	g.Go(func() error { return actors.Tapper(gctx, deps, stop) })
	g.Go(func() error { return actors.Claimer(gctx, deps, stop) })
	g.Go(func() error { return actors.Refunder(gctx, deps, stop) })
	go chaos.TerminateRandomBackend(gctx, h.pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(gctx, h.pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, gctx, h)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	stopLoops()
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	var completed int
	if err := h.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM matches WHERE status = 'completed'`).Scan(&completed); err == nil {
		t.Logf("completed matches: %d (seed=%d)", completed, seed)
	}
}

func dumpRecent(t *testing.T, ctx context.Context, h *harness) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"matches", `SELECT id, status, result_type, winner_id, claim_status, cancel_reason, created_at FROM matches ORDER BY created_at DESC LIMIT 50`},
		{"tap_events", `SELECT match_id, user_id, reaction_ms, is_valid, disqualified FROM tap_events ORDER BY created_at DESC LIMIT 50`},
		{"payment_intents", `SELECT reference, match_id, normalized_status, refund_status FROM payment_intents ORDER BY created_at DESC LIMIT 50`},
		{"audit_events", `SELECT match_id, type, created_at FROM audit_events ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := h.pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
