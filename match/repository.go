package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const matchColumns = `
	id, idempotency_key, player1_id, player2_id, player1_wallet, player2_wallet,
	stake_amount, status, green_light_time, signal_delay_ms,
	winner_id, result_type, completed_at,
	player1_ready, player2_ready, player1_ready_at, player2_ready_at,
	player1_staked, player2_staked,
	player1_reaction_ms, player2_reaction_ms,
	player1_disqualified, player2_disqualified,
	platform_fee, claim_status, claim_deadline, winner_wallet, loser_wallet,
	player1_last_ping, player2_last_ping, player1_disconnects, player2_disconnects,
	cancel_reason, created_at, updated_at`

// Execer is the slice of pgx both pgxpool.Pool and pgx.Tx satisfy, so audit
// writes can ride an open transaction or go straight to the pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the pgx-backed store for matches, taps, the escrow ledger and
// the audit log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed match repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Begin opens a transaction for the orchestrator's multi-step updates.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("match: begin tx: %w", err)
	}
	return tx, nil
}

// CreateParams carries everything needed to persist a fresh pairing.
type CreateParams struct {
	IdempotencyKey *string
	Player1ID      string
	Player2ID      string
	Player1Wallet  string
	Player2Wallet  string
	Stake          decimal.Decimal
	Status         State
}

// Create inserts a match. With an idempotency key a replay returns the
// existing row instead of erroring.
func (r *Repository) Create(ctx context.Context, p CreateParams) (Match, error) {
	const insertSQL = `
		INSERT INTO matches (idempotency_key, player1_id, player2_id,
			player1_wallet, player2_wallet, stake_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING` + matchColumns

	m, err := scanMatch(r.pool.QueryRow(ctx, insertSQL,
		p.IdempotencyKey, p.Player1ID, p.Player2ID,
		p.Player1Wallet, p.Player2Wallet, p.Stake, p.Status))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || p.IdempotencyKey == nil {
		return Match{}, fmt.Errorf("match: create: %w", err)
	}

	// Conflict on the idempotency key: a previous attempt already created
	// this match.
	const existingSQL = `SELECT` + matchColumns + ` FROM matches WHERE idempotency_key = $1`
	m, err = scanMatch(r.pool.QueryRow(ctx, existingSQL, *p.IdempotencyKey))
	if err != nil {
		return Match{}, fmt.Errorf("match: load by idempotency key: %w", err)
	}
	return m, nil
}

// GetByID loads one match without locking.
func (r *Repository) GetByID(ctx context.Context, id string) (Match, error) {
	const query = `SELECT` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Match{}, ErrNotFound
		}
		return Match{}, fmt.Errorf("match: get by id: %w", err)
	}
	return m, nil
}

// GetForUpdate loads and row-locks one match inside tx. Every state mutation
// goes through this lock so concurrent taps and watchdog sweeps serialize.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Match, error) {
	const query = `SELECT` + matchColumns + ` FROM matches WHERE id = $1 FOR UPDATE`
	m, err := scanMatch(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Match{}, ErrNotFound
		}
		return Match{}, fmt.Errorf("match: get for update: %w", err)
	}
	return m, nil
}

// Transition moves status from -> to, guarded both by the machine's edge set
// and by the stored status.
func (r *Repository) Transition(ctx context.Context, tx pgx.Tx, id string, from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	const query = `
		UPDATE matches SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`
	tag, err := tx.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("match: transition %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s (stale status)", ErrInvalidTransition, from, to)
	}
	return nil
}

// SetStaked marks one player's deposit as confirmed.
func (r *Repository) SetStaked(ctx context.Context, tx pgx.Tx, id string, playerIdx int) error {
	query := `UPDATE matches SET player1_staked = TRUE, updated_at = now() WHERE id = $1`
	if playerIdx == 2 {
		query = `UPDATE matches SET player2_staked = TRUE, updated_at = now() WHERE id = $1`
	}
	if _, err := tx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("match: set staked: %w", err)
	}
	return nil
}

// SetReady marks one player ready and stamps the time.
func (r *Repository) SetReady(ctx context.Context, tx pgx.Tx, id string, playerIdx int) error {
	query := `UPDATE matches SET player1_ready = TRUE, player1_ready_at = now(), updated_at = now() WHERE id = $1`
	if playerIdx == 2 {
		query = `UPDATE matches SET player2_ready = TRUE, player2_ready_at = now(), updated_at = now() WHERE id = $1`
	}
	if _, err := tx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("match: set ready: %w", err)
	}
	return nil
}

// ArmSignal schedules the green light exactly once per match.
func (r *Repository) ArmSignal(ctx context.Context, tx pgx.Tx, id string, greenLight, delayMs int64) error {
	const query = `
		UPDATE matches SET green_light_time = $2, signal_delay_ms = $3, updated_at = now()
		WHERE id = $1 AND green_light_time IS NULL`
	tag, err := tx.Exec(ctx, query, id, greenLight, delayMs)
	if err != nil {
		return fmt.Errorf("match: arm signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSignalAlreadySet
	}
	return nil
}

// InsertTap persists a tap event first-write-wins. When the player already
// tapped, the stored event is returned with inserted=false.
func (r *Repository) InsertTap(ctx context.Context, tx pgx.Tx, e TapEvent) (TapEvent, bool, error) {
	const insertSQL = `
		INSERT INTO tap_events (match_id, user_id, client_timestamp,
			server_timestamp, reaction_ms, is_valid, disqualified, dq_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id, user_id) DO NOTHING
		RETURNING id, match_id, user_id, client_timestamp, server_timestamp,
			reaction_ms, is_valid, disqualified, dq_reason, created_at`

	stored, err := scanTap(tx.QueryRow(ctx, insertSQL,
		e.MatchID, e.UserID, e.ClientTimestamp,
		e.ServerTimestamp, e.ReactionMs, e.IsValid, e.Disqualified, e.DQReason))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return TapEvent{}, false, fmt.Errorf("match: insert tap: %w", err)
	}

	const existingSQL = `
		SELECT id, match_id, user_id, client_timestamp, server_timestamp,
			reaction_ms, is_valid, disqualified, dq_reason, created_at
		FROM tap_events WHERE match_id = $1 AND user_id = $2`
	stored, err = scanTap(tx.QueryRow(ctx, existingSQL, e.MatchID, e.UserID))
	if err != nil {
		return TapEvent{}, false, fmt.Errorf("match: load existing tap: %w", err)
	}
	return stored, false, nil
}

// Taps loads both tap events for a match, if present.
func (r *Repository) Taps(ctx context.Context, matchID string) ([]TapEvent, error) {
	const query = `
		SELECT id, match_id, user_id, client_timestamp, server_timestamp,
			reaction_ms, is_valid, disqualified, dq_reason, created_at
		FROM tap_events WHERE match_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("match: load taps: %w", err)
	}
	defer rows.Close()

	var out []TapEvent
	for rows.Next() {
		e, err := scanTap(rows)
		if err != nil {
			return nil, fmt.Errorf("match: scan tap: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("match: iterate taps: %w", err)
	}
	return out, nil
}

// RecordReaction mirrors a tap's result onto the match row.
func (r *Repository) RecordReaction(ctx context.Context, tx pgx.Tx, id string, playerIdx int, reactionMs int64, disqualified bool) error {
	query := `
		UPDATE matches SET player1_reaction_ms = $2, player1_disqualified = $3, updated_at = now()
		WHERE id = $1`
	if playerIdx == 2 {
		query = `
		UPDATE matches SET player2_reaction_ms = $2, player2_disqualified = $3, updated_at = now()
		WHERE id = $1`
	}
	if _, err := tx.Exec(ctx, query, id, reactionMs, disqualified); err != nil {
		return fmt.Errorf("match: record reaction: %w", err)
	}
	return nil
}

// CompleteParams carries the settlement written when a match finishes.
type CompleteParams struct {
	MatchID       string
	WinnerID      *string
	ResultType    string
	PlatformFee   *decimal.Decimal
	ClaimStatus   *string
	ClaimDeadline *time.Time
	WinnerWallet  *string
	LoserWallet   *string
}

// Complete settles a started match.
func (r *Repository) Complete(ctx context.Context, tx pgx.Tx, p CompleteParams) error {
	const query = `
		UPDATE matches
		SET status = $2, winner_id = $3, result_type = $4, completed_at = now(),
		    platform_fee = $5, claim_status = $6, claim_deadline = $7,
		    winner_wallet = $8, loser_wallet = $9, updated_at = now()
		WHERE id = $1 AND status = $10`

	tag, err := tx.Exec(ctx, query, p.MatchID, StateCompleted,
		p.WinnerID, p.ResultType, p.PlatformFee,
		p.ClaimStatus, p.ClaimDeadline, p.WinnerWallet, p.LoserWallet,
		StateStarted)
	if err != nil {
		return fmt.Errorf("match: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: started -> completed (stale status)", ErrInvalidTransition)
	}
	return nil
}

// Cancel moves a non-terminal match into to (cancelled or refunded) with the
// reason recorded.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string, to State) error {
	const query = `
		UPDATE matches SET status = $2, cancel_reason = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5, $6)`

	tag, err := tx.Exec(ctx, query, id, to, reason,
		StateCompleted, StateCancelled, StateRefunded)
	if err != nil {
		return fmt.Errorf("match: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: already terminal", ErrInvalidTransition)
	}
	return nil
}

// TransitionClaim moves claim_status guarded by the current value. Returns
// false when the guard did not match.
func (r *Repository) TransitionClaim(ctx context.Context, tx pgx.Tx, id, from, to string) (bool, error) {
	const query = `
		UPDATE matches SET claim_status = $3, updated_at = now()
		WHERE id = $1 AND claim_status = $2`
	tag, err := tx.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("match: transition claim: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireClaims moves unclaimed winnings past their deadline to expired.
func (r *Repository) ExpireClaims(ctx context.Context) (int64, error) {
	const query = `
		UPDATE matches SET claim_status = $1, updated_at = now()
		WHERE claim_status = $2 AND claim_deadline < now()`
	tag, err := r.pool.Exec(ctx, query, ClaimExpired, ClaimUnclaimed)
	if err != nil {
		return 0, fmt.Errorf("match: expire claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Heartbeat stamps the caller's last-ping column. Returns ErrNotParticipant
// when the user is not in the match.
func (r *Repository) Heartbeat(ctx context.Context, matchID, userID string) error {
	const query = `
		UPDATE matches
		SET player1_last_ping = CASE WHEN player1_id = $2 THEN now() ELSE player1_last_ping END,
		    player2_last_ping = CASE WHEN player2_id = $2 THEN now() ELSE player2_last_ping END,
		    updated_at = now()
		WHERE id = $1 AND (player1_id = $2 OR player2_id = $2)`

	tag, err := r.pool.Exec(ctx, query, matchID, userID)
	if err != nil {
		return fmt.Errorf("match: heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotParticipant
	}
	return nil
}

// IncrementDisconnects bumps the player's disconnect counter and returns the
// new value.
func (r *Repository) IncrementDisconnects(ctx context.Context, matchID, userID string) (int, error) {
	const query = `
		UPDATE matches
		SET player1_disconnects = player1_disconnects + CASE WHEN player1_id = $2 THEN 1 ELSE 0 END,
		    player2_disconnects = player2_disconnects + CASE WHEN player2_id = $2 THEN 1 ELSE 0 END,
		    updated_at = now()
		WHERE id = $1 AND (player1_id = $2 OR player2_id = $2)
		RETURNING CASE WHEN player1_id = $2 THEN player1_disconnects ELSE player2_disconnects END`

	var count int
	if err := r.pool.QueryRow(ctx, query, matchID, userID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotParticipant
		}
		return 0, fmt.Errorf("match: increment disconnects: %w", err)
	}
	return count, nil
}

// ActiveForUser returns the user's current non-terminal match, or nil.
func (r *Repository) ActiveForUser(ctx context.Context, userID string) (*Match, error) {
	const query = `SELECT` + matchColumns + `
		FROM matches
		WHERE (player1_id = $1 OR player2_id = $1)
		  AND status NOT IN ($2, $3, $4)
		ORDER BY created_at DESC LIMIT 1`

	m, err := scanMatch(r.pool.QueryRow(ctx, query, userID,
		StateCompleted, StateCancelled, StateRefunded))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("match: active for user: %w", err)
	}
	return &m, nil
}

// History returns the user's finished matches, newest first.
func (r *Repository) History(ctx context.Context, userID string, limit int) ([]Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT` + matchColumns + `
		FROM matches
		WHERE (player1_id = $1 OR player2_id = $1)
		  AND status IN ($2, $3, $4)
		ORDER BY created_at DESC LIMIT $5`

	rows, err := r.pool.Query(ctx, query, userID,
		StateCompleted, StateCancelled, StateRefunded, limit)
	if err != nil {
		return nil, fmt.Errorf("match: history: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0, limit)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("match: scan history row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("match: iterate history: %w", err)
	}
	return out, nil
}

// UpdateUserStats folds a completed match into the user's aggregate record.
// The rolling average only moves on a real reaction.
func (r *Repository) UpdateUserStats(ctx context.Context, tx pgx.Tx, userID string, won bool, reactionMs *int64) error {
	const query = `
		UPDATE users
		SET avg_reaction_ms = CASE
			WHEN $3::bigint IS NULL THEN avg_reaction_ms
			ELSE (avg_reaction_ms * (wins + losses) + $3) / (wins + losses + 1)
		    END,
		    wins = wins + CASE WHEN $2 THEN 1 ELSE 0 END,
		    losses = losses + CASE WHEN $2 THEN 0 ELSE 1 END,
		    updated_at = now()
		WHERE id = $1`

	if _, err := tx.Exec(ctx, query, userID, won, reactionMs); err != nil {
		return fmt.Errorf("match: update user stats: %w", err)
	}
	return nil
}

// Watchdog queries.

// ListTimedOut returns matches stuck in state longer than age.
func (r *Repository) ListTimedOut(ctx context.Context, state State, age time.Duration) ([]Match, error) {
	const query = `SELECT` + matchColumns + `
		FROM matches WHERE status = $1 AND updated_at < now() - $2::interval
		ORDER BY updated_at LIMIT 100`
	return r.listMatches(ctx, query, state, interval(age))
}

// ListExpiredTapWindows returns started matches whose tap window has closed.
func (r *Repository) ListExpiredTapWindows(ctx context.Context, windowMs int64) ([]Match, error) {
	const query = `SELECT` + matchColumns + `
		FROM matches
		WHERE status = $1
		  AND green_light_time IS NOT NULL
		  AND green_light_time + $2 < (extract(epoch FROM now()) * 1000)::bigint
		ORDER BY green_light_time LIMIT 100`
	return r.listMatches(ctx, query, StateStarted, windowMs)
}

// ListAbandoned returns matches where neither player has pinged inside the
// threshold and no signal was armed. Matches past the signal are settled by
// the tap-window sweep instead.
func (r *Repository) ListAbandoned(ctx context.Context, threshold time.Duration) ([]Match, error) {
	const query = `SELECT` + matchColumns + `
		FROM matches
		WHERE status IN ($2, $3)
		  AND green_light_time IS NULL
		  AND COALESCE(player1_last_ping, created_at) < now() - $1::interval
		  AND COALESCE(player2_last_ping, created_at) < now() - $1::interval
		ORDER BY created_at LIMIT 100`
	return r.listMatches(ctx, query, interval(threshold), StateReady, StateStarted)
}

// ListStale returns any non-terminal match older than age, for the GC sweep.
func (r *Repository) ListStale(ctx context.Context, age time.Duration) ([]Match, error) {
	const query = `SELECT` + matchColumns + `
		FROM matches
		WHERE status NOT IN ($2, $3, $4) AND created_at < now() - $1::interval
		ORDER BY created_at LIMIT 100`
	return r.listMatches(ctx, query, interval(age),
		StateCompleted, StateCancelled, StateRefunded)
}

func (r *Repository) listMatches(ctx context.Context, query string, args ...any) ([]Match, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("match: list: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("match: scan list row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("match: iterate list: %w", err)
	}
	return out, nil
}

// Audit appends one event. exec can be a transaction so the event commits
// atomically with the state change it describes.
func (r *Repository) Audit(ctx context.Context, exec Execer, matchID, userID *string, eventType, correlationID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("match: marshal audit payload: %w", err)
	}
	if payload == nil {
		body = []byte(`{}`)
	}
	const query = `
		INSERT INTO audit_events (match_id, user_id, type, payload, correlation_id)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := exec.Exec(ctx, query, matchID, userID, eventType, body, correlationID); err != nil {
		return fmt.Errorf("match: append audit event: %w", err)
	}
	return nil
}

// RecordFinding implements the anti-cheat audit sink.
func (r *Repository) RecordFinding(ctx context.Context, userID, kind string, payload map[string]any) error {
	return r.Audit(ctx, r.pool, nil, &userID, kind, "", payload)
}

// RecentReactions implements the anti-cheat history reader.
func (r *Repository) RecentReactions(ctx context.Context, userID string, limit int) ([]int64, error) {
	const query = `
		SELECT reaction_ms FROM tap_events
		WHERE user_id = $1 AND is_valid
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("match: recent reactions: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("match: scan reaction: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("match: iterate reactions: %w", err)
	}
	return out, nil
}

// WinStats implements the anti-cheat history reader.
func (r *Repository) WinStats(ctx context.Context, userID string, window time.Duration) (completed, wins int, err error) {
	const query = `
		SELECT count(*), count(*) FILTER (WHERE winner_id = $1)
		FROM matches
		WHERE (player1_id = $1 OR player2_id = $1)
		  AND status = $2
		  AND completed_at > now() - $3::interval`

	if err := r.pool.QueryRow(ctx, query, userID, StateCompleted, interval(window)).Scan(&completed, &wins); err != nil {
		return 0, 0, fmt.Errorf("match: win stats: %w", err)
	}
	return completed, wins, nil
}

// CompletedTransaction implements the escrow ledger.
func (r *Repository) CompletedTransaction(ctx context.Context, matchID, kind string) (string, bool, error) {
	const query = `
		SELECT COALESCE(tx_hash, '') FROM ledger_transactions
		WHERE match_id = $1 AND kind = $2 AND status = 'completed'`

	var hash string
	err := r.pool.QueryRow(ctx, query, matchID, kind).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("match: ledger lookup: %w", err)
	}
	return hash, true, nil
}

// RecordTransaction implements the escrow ledger. First writer wins.
func (r *Repository) RecordTransaction(ctx context.Context, matchID, kind, txHash string) error {
	const query = `
		INSERT INTO ledger_transactions (match_id, kind, tx_hash)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (match_id, kind) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, matchID, kind, txHash); err != nil {
		return fmt.Errorf("match: record ledger transaction: %w", err)
	}
	return nil
}

func scanMatch(row pgx.Row) (Match, error) {
	var m Match
	err := row.Scan(
		&m.ID, &m.IdempotencyKey, &m.Player1ID, &m.Player2ID, &m.Player1Wallet, &m.Player2Wallet,
		&m.StakeAmount, &m.Status, &m.GreenLightTime, &m.SignalDelayMs,
		&m.WinnerID, &m.ResultType, &m.CompletedAt,
		&m.Player1Ready, &m.Player2Ready, &m.Player1ReadyAt, &m.Player2ReadyAt,
		&m.Player1Staked, &m.Player2Staked,
		&m.Player1ReactionMs, &m.Player2ReactionMs,
		&m.Player1Disqualified, &m.Player2Disqualified,
		&m.PlatformFee, &m.ClaimStatus, &m.ClaimDeadline, &m.WinnerWallet, &m.LoserWallet,
		&m.Player1LastPing, &m.Player2LastPing, &m.Player1Disconnects, &m.Player2Disconnects,
		&m.CancelReason, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return Match{}, err
	}
	return m, nil
}

func scanTap(row pgx.Row) (TapEvent, error) {
	var e TapEvent
	err := row.Scan(
		&e.ID, &e.MatchID, &e.UserID, &e.ClientTimestamp, &e.ServerTimestamp,
		&e.ReactionMs, &e.IsValid, &e.Disqualified, &e.DQReason, &e.CreatedAt,
	)
	if err != nil {
		return TapEvent{}, err
	}
	return e, nil
}

func interval(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}
