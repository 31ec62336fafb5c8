// Package matchqueue implements per-stake FIFO matchmaking over the
// match_queue table. Pairing uses FOR UPDATE SKIP LOCKED so concurrent sweeps
// and enqueue-triggered pairing attempts never double-match a player.
package matchqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tapduel/match"
	"tapduel/metrics"
)

// Queue entry statuses.
const (
	statusSearching    = "searching"
	statusDisconnected = "disconnected"
)

var (
	// ErrActiveMatch rejects enqueue while the user already has a match.
	ErrActiveMatch = errors.New("matchqueue: user already in an active match")
	// ErrNotQueued signals a cancel or restore with no live entry.
	ErrNotQueued = errors.New("matchqueue: user is not queued")
)

// Sessions is the coordinator surface gating enqueue.
type Sessions interface {
	ActiveMatch(ctx context.Context, userID string) (string, error)
}

// Pairer turns a matched pair into a match; implemented by the orchestrator.
type Pairer interface {
	CreateFromPair(ctx context.Context, p1, p2 match.PlayerRef, stake decimal.Decimal, idemKey *string) (match.Match, error)
}

// Config tunes queue behaviour.
type Config struct {
	// Timeout is how long an entry stays matchable.
	Timeout time.Duration
	// DisconnectGrace keeps a disconnected entry restorable in place.
	DisconnectGrace time.Duration
	// SweepInterval drives the background pairing/purge loop.
	SweepInterval time.Duration
}

// Queue is the matchmaking service.
type Queue struct {
	pool     *pgxpool.Pool
	sessions Sessions
	pairer   Pairer
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New wires the queue.
func New(pool *pgxpool.Pool, sessions Sessions, pairer Pairer, cfg Config, log *zap.Logger, m *metrics.Metrics) *Queue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	return &Queue{pool: pool, sessions: sessions, pairer: pairer, cfg: cfg, log: log, metrics: m}
}

// EnqueueResult tells the caller whether they were matched on the spot.
type EnqueueResult struct {
	Status  string
	MatchID string
}

// Enqueue adds the user to their stake's FIFO and attempts an immediate
// pairing. Users with an active match are rejected; a user already searching
// keeps their original queue position.
func (q *Queue) Enqueue(ctx context.Context, userID string, stake decimal.Decimal) (EnqueueResult, error) {
	if active, err := q.sessions.ActiveMatch(ctx, userID); err != nil {
		return EnqueueResult{}, err
	} else if active != "" {
		return EnqueueResult{}, ErrActiveMatch
	}

	const insertSQL = `
		INSERT INTO match_queue (user_id, stake, expires_at)
		SELECT $1, $2, now() + $3::interval
		WHERE NOT EXISTS (
			SELECT 1 FROM match_queue
			WHERE user_id = $1 AND status = $4 AND expires_at > now()
		)`
	if _, err := q.pool.Exec(ctx, insertSQL, userID, stake,
		interval(q.cfg.Timeout), statusSearching); err != nil {
		return EnqueueResult{}, fmt.Errorf("matchqueue: enqueue: %w", err)
	}

	if err := q.pairStake(ctx, stake); err != nil {
		q.log.Error("pairing attempt failed", zap.String("stake", stake.String()), zap.Error(err))
	}

	// Pairing clears the queue entry and records the active match; re-check
	// to tell the caller whether they were matched on this call.
	if matchID, err := q.sessions.ActiveMatch(ctx, userID); err == nil && matchID != "" {
		return EnqueueResult{Status: "matched", MatchID: matchID}, nil
	}
	return EnqueueResult{Status: "searching"}, nil
}

// Cancel removes the user's searching entry.
func (q *Queue) Cancel(ctx context.Context, userID string, stake decimal.Decimal) error {
	const query = `
		DELETE FROM match_queue
		WHERE user_id = $1 AND stake = $2 AND status IN ($3, $4)`
	tag, err := q.pool.Exec(ctx, query, userID, stake, statusSearching, statusDisconnected)
	if err != nil {
		return fmt.Errorf("matchqueue: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotQueued
	}
	return nil
}

// MarkDisconnected flags the user's entry instead of removing it, opening the
// reconnect grace window.
func (q *Queue) MarkDisconnected(ctx context.Context, userID string) error {
	const query = `
		UPDATE match_queue
		SET status = $2, disconnected_at = now()
		WHERE user_id = $1 AND status = $3`
	if _, err := q.pool.Exec(ctx, query, userID, statusDisconnected, statusSearching); err != nil {
		return fmt.Errorf("matchqueue: mark disconnected: %w", err)
	}
	return nil
}

// Restore puts a disconnected entry back in place when the user reconnects
// inside the grace window. The original created_at is kept, so the user does
// not lose their queue position.
func (q *Queue) Restore(ctx context.Context, userID string) error {
	const query = `
		UPDATE match_queue
		SET status = $2, disconnected_at = NULL
		WHERE user_id = $1 AND status = $3
		  AND disconnected_at > now() - $4::interval`
	tag, err := q.pool.Exec(ctx, query, userID, statusSearching, statusDisconnected,
		interval(q.cfg.DisconnectGrace))
	if err != nil {
		return fmt.Errorf("matchqueue: restore: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotQueued
	}
	return nil
}

// Run drives the background purge-and-pair loop until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	q.log.Info("matchmaking sweep started", zap.Duration("interval", q.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			q.log.Info("matchmaking sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// Sweep purges dead entries, pairs every stake with waiting players, and
// refreshes the depth gauge.
func (q *Queue) Sweep(ctx context.Context) {
	if err := q.purge(ctx); err != nil {
		q.log.Error("queue purge failed", zap.Error(err))
	}

	stakes, err := q.searchingStakes(ctx)
	if err != nil {
		q.log.Error("list queue stakes failed", zap.Error(err))
		return
	}
	for _, stake := range stakes {
		if err := q.pairStake(ctx, stake); err != nil {
			q.log.Error("stake pairing failed", zap.String("stake", stake.String()), zap.Error(err))
		}
	}

	var depth int64
	if err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM match_queue WHERE status = $1`, statusSearching).Scan(&depth); err == nil {
		q.metrics.QueueDepth.Set(float64(depth))
	}
}

// purge drops expired searching entries and disconnected entries whose grace
// ran out.
func (q *Queue) purge(ctx context.Context) error {
	const query = `
		DELETE FROM match_queue
		WHERE (status = $1 AND expires_at < now())
		   OR (status = $2 AND disconnected_at < now() - $3::interval)`
	if _, err := q.pool.Exec(ctx, query, statusSearching, statusDisconnected,
		interval(q.cfg.DisconnectGrace)); err != nil {
		return fmt.Errorf("matchqueue: purge: %w", err)
	}
	return nil
}

func (q *Queue) searchingStakes(ctx context.Context) ([]decimal.Decimal, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT stake FROM match_queue
		WHERE status = $1 GROUP BY stake HAVING count(*) >= 2`, statusSearching)
	if err != nil {
		return nil, fmt.Errorf("matchqueue: list stakes: %w", err)
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var s decimal.Decimal
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("matchqueue: scan stake: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type queueEntry struct {
	id     string
	userID string
	wallet string
}

// pairStake repeatedly claims the two oldest live entries for the stake and
// hands them to the orchestrator. The claim transaction commits before match
// creation so no row lock is held across escrow I/O.
func (q *Queue) pairStake(ctx context.Context, stake decimal.Decimal) error {
	for {
		head, tail, err := q.claimPair(ctx, stake)
		if err != nil {
			return err
		}
		if head == nil {
			return nil
		}

		idemKey := fmt.Sprintf("pair:%s:%s", head.id, tail.id)
		m, err := q.pairer.CreateFromPair(ctx,
			match.PlayerRef{ID: head.userID, Wallet: head.wallet},
			match.PlayerRef{ID: tail.userID, Wallet: tail.wallet},
			stake, &idemKey)
		if err != nil {
			// Give both players their spot back rather than silently
			// dropping them.
			q.requeue(ctx, head, stake)
			q.requeue(ctx, tail, stake)
			return fmt.Errorf("matchqueue: create match: %w", err)
		}

		q.metrics.PairsMatched.Inc()
		q.log.Info("pair matched",
			zap.String("match_id", m.ID),
			zap.String("player1", head.userID),
			zap.String("player2", tail.userID),
			zap.String("stake", stake.String()))
	}
}

// claimPair removes and returns the two oldest distinct searching users for
// the stake, or nils when fewer than two are available.
func (q *Queue) claimPair(ctx context.Context, stake decimal.Decimal) (*queueEntry, *queueEntry, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("matchqueue: begin pair tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectSQL = `
		SELECT q.id, q.user_id, u.wallet_address
		FROM match_queue q
		JOIN users u ON u.id = q.user_id
		WHERE q.status = $1 AND q.stake = $2 AND q.expires_at > now()
		ORDER BY q.created_at
		LIMIT 2
		FOR UPDATE OF q SKIP LOCKED`

	rows, err := tx.Query(ctx, selectSQL, statusSearching, stake)
	if err != nil {
		return nil, nil, fmt.Errorf("matchqueue: select pair: %w", err)
	}
	var entries []queueEntry
	for rows.Next() {
		var e queueEntry
		if err := rows.Scan(&e.id, &e.userID, &e.wallet); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("matchqueue: scan pair row: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("matchqueue: iterate pair rows: %w", err)
	}
	if len(entries) < 2 {
		return nil, nil, nil
	}
	if entries[0].userID == entries[1].userID {
		// Duplicate entries for one user: keep the older, drop the newer.
		if err := q.deleteEntries(ctx, tx, entries[1].id); err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("matchqueue: commit dedupe: %w", err)
		}
		return nil, nil, nil
	}

	if err := q.deleteEntries(ctx, tx, entries[0].id, entries[1].id); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("matchqueue: commit pair claim: %w", err)
	}
	return &entries[0], &entries[1], nil
}

func (q *Queue) deleteEntries(ctx context.Context, tx pgx.Tx, ids ...string) error {
	for _, id := range ids {
		if _, err := tx.Exec(ctx, `DELETE FROM match_queue WHERE id = $1`, id); err != nil {
			return fmt.Errorf("matchqueue: delete entry: %w", err)
		}
	}
	return nil
}

func (q *Queue) requeue(ctx context.Context, e *queueEntry, stake decimal.Decimal) {
	const query = `
		INSERT INTO match_queue (user_id, stake, expires_at)
		VALUES ($1, $2, now() + $3::interval)`
	if _, err := q.pool.Exec(ctx, query, e.userID, stake, interval(q.cfg.Timeout)); err != nil {
		q.log.Error("requeue failed", zap.String("user_id", e.userID), zap.Error(err))
	}
}

func interval(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}
