package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals no intent exists for the reference.
	ErrNotFound = errors.New("payment: intent not found")
	// ErrDuplicateReference signals the reference is already taken.
	ErrDuplicateReference = errors.New("payment: duplicate reference")
)

const intentColumns = `
	id, reference, user_id, amount, match_id,
	raw_status, normalized_status, oracle_tx_id, tx_hash,
	locked_at, locked_by,
	retry_count, last_retry_at, next_retry_at, last_error,
	refund_status, refund_deadline, refund_amount, refund_reason,
	created_at, updated_at`

// Repository is the pgx-backed store for payment intents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed payment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a fresh pending intent.
func (r *Repository) Create(ctx context.Context, reference, userID string, amount decimal.Decimal) (Intent, error) {
	const insertSQL = `
		INSERT INTO payment_intents (reference, user_id, amount)
		VALUES ($1, $2, $3)
		RETURNING` + intentColumns

	intent, err := scanIntent(r.pool.QueryRow(ctx, insertSQL, reference, userID, amount))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Intent{}, ErrDuplicateReference
		}
		return Intent{}, fmt.Errorf("payment: create intent: %w", err)
	}
	return intent, nil
}

// GetByReference loads one intent.
func (r *Repository) GetByReference(ctx context.Context, reference string) (Intent, error) {
	const query = `SELECT` + intentColumns + ` FROM payment_intents WHERE reference = $1`

	intent, err := scanIntent(r.pool.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, ErrNotFound
		}
		return Intent{}, fmt.Errorf("payment: get by reference: %w", err)
	}
	return intent, nil
}

// AttachTransaction links the oracle transaction id reported by the client
// and stores the raw status it claimed. Status stays pending until the worker
// verifies against the oracle; a client-supplied "confirmed" is advisory.
func (r *Repository) AttachTransaction(ctx context.Context, reference, oracleTxID, rawStatus string) (Intent, error) {
	const query = `
		UPDATE payment_intents
		SET oracle_tx_id = COALESCE(oracle_tx_id, $2),
		    raw_status = $3,
		    updated_at = now()
		WHERE reference = $1
		RETURNING` + intentColumns

	intent, err := scanIntent(r.pool.QueryRow(ctx, query, reference, oracleTxID, rawStatus))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, ErrNotFound
		}
		return Intent{}, fmt.Errorf("payment: attach transaction: %w", err)
	}
	return intent, nil
}

// LinkToMatch binds an unlinked intent to a match. Linking is first-write-wins.
func (r *Repository) LinkToMatch(ctx context.Context, reference, matchID string) error {
	const query = `
		UPDATE payment_intents
		SET match_id = COALESCE(match_id, $2), updated_at = now()
		WHERE reference = $1`

	tag, err := r.pool.Exec(ctx, query, reference, matchID)
	if err != nil {
		return fmt.Errorf("payment: link to match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireStale fails pending intents that never produced an oracle transaction
// inside the stale window. Returns the number of intents expired.
func (r *Repository) ExpireStale(ctx context.Context, staleWindow time.Duration) (int64, error) {
	const query = `
		UPDATE payment_intents
		SET normalized_status = $1,
		    last_error = $2,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = now()
		WHERE normalized_status = $3
		  AND oracle_tx_id IS NULL
		  AND created_at < now() - $4::interval`

	tag, err := r.pool.Exec(ctx, query,
		StatusFailed, ReasonStaleNoTransaction, StatusPending, intervalArg(staleWindow))
	if err != nil {
		return 0, fmt.Errorf("payment: expire stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LeaseBatch atomically claims up to batchSize pending intents that are due
// and unleased (or whose lease expired). The transaction commits before any
// external I/O happens, so a crashed worker only ever costs one lease TTL.
func (r *Repository) LeaseBatch(ctx context.Context, workerID string, batchSize int, leaseTTL time.Duration) ([]Intent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment: begin lease tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectSQL = `
		SELECT` + intentColumns + `
		FROM payment_intents
		WHERE normalized_status = $1
		  AND (locked_at IS NULL OR locked_at < now() - $2::interval)
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY next_retry_at ASC NULLS FIRST, created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, selectSQL, StatusPending, intervalArg(leaseTTL), batchSize)
	if err != nil {
		return nil, fmt.Errorf("payment: select lease batch: %w", err)
	}

	leased := make([]Intent, 0, batchSize)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("payment: scan lease row: %w", err)
		}
		leased = append(leased, intent)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment: iterate lease rows: %w", err)
	}

	now := time.Now()
	for i := range leased {
		if _, err := tx.Exec(ctx, `
			UPDATE payment_intents
			SET locked_at = now(), locked_by = $2, updated_at = now()
			WHERE reference = $1`, leased[i].Reference, workerID); err != nil {
			return nil, fmt.Errorf("payment: mark lease: %w", err)
		}
		leased[i].LockedAt = &now
		leased[i].LockedBy = &workerID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("payment: commit lease: %w", err)
	}
	return leased, nil
}

// ReleaseLease clears the lease fields without touching status.
func (r *Repository) ReleaseLease(ctx context.Context, reference string) error {
	const query = `
		UPDATE payment_intents
		SET locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE reference = $1`
	if _, err := r.pool.Exec(ctx, query, reference); err != nil {
		return fmt.Errorf("payment: release lease: %w", err)
	}
	return nil
}

// ApplyOracleResult records the oracle's answer and releases the lease.
// Status updates are monotonic: a row that already reached a terminal status
// is left untouched apart from the lease.
func (r *Repository) ApplyOracleResult(ctx context.Context, reference, rawStatus, normalized string, txHash, lastError *string) error {
	const query = `
		UPDATE payment_intents
		SET raw_status = $2,
		    normalized_status = CASE WHEN normalized_status = 'pending' THEN $3 ELSE normalized_status END,
		    tx_hash = COALESCE($4, tx_hash),
		    last_error = $5,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = now()
		WHERE reference = $1`

	tag, err := r.pool.Exec(ctx, query, reference, rawStatus, normalized, txHash, lastError)
	if err != nil {
		return fmt.Errorf("payment: apply oracle result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ScheduleRetry bumps the retry counters with exponential backoff and
// releases the lease so another cycle can claim the row once due.
func (r *Repository) ScheduleRetry(ctx context.Context, reference string, retryCount int, base, max time.Duration, lastError string) error {
	backoff := base << uint(retryCount)
	if backoff > max || backoff <= 0 {
		backoff = max
	}

	const query = `
		UPDATE payment_intents
		SET retry_count = retry_count + 1,
		    last_retry_at = now(),
		    next_retry_at = now() + $2::interval,
		    last_error = $3,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = now()
		WHERE reference = $1`

	if _, err := r.pool.Exec(ctx, query, reference, intervalArg(backoff), lastError); err != nil {
		return fmt.Errorf("payment: schedule retry: %w", err)
	}
	return nil
}

// MarkRefundEligible opens the refund window on every intent linked to the
// match that actually confirmed a deposit.
func (r *Repository) MarkRefundEligible(ctx context.Context, tx pgx.Tx, matchID, reason string, deadline time.Time) error {
	const query = `
		UPDATE payment_intents
		SET refund_status = $2,
		    refund_deadline = $3,
		    refund_amount = amount,
		    refund_reason = $4,
		    updated_at = now()
		WHERE match_id = $1
		  AND normalized_status = $5
		  AND refund_status = $6`

	if _, err := tx.Exec(ctx, query, matchID, RefundEligible, deadline, reason, StatusConfirmed, RefundNone); err != nil {
		return fmt.Errorf("payment: mark refund eligible: %w", err)
	}
	return nil
}

// TransitionRefund moves refund_status between states guarded by the current
// value, returning false when the guard did not match.
func (r *Repository) TransitionRefund(ctx context.Context, reference, from, to string) (bool, error) {
	const query = `
		UPDATE payment_intents
		SET refund_status = $3, updated_at = now()
		WHERE reference = $1 AND refund_status = $2`

	tag, err := r.pool.Exec(ctx, query, reference, from, to)
	if err != nil {
		return false, fmt.Errorf("payment: transition refund: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteEligibleRefunds settles every eligible refund linked to the match
// once escrow has returned the deposits. Returns how many intents moved.
func (r *Repository) CompleteEligibleRefunds(ctx context.Context, matchID string) (int64, error) {
	const query = `
		UPDATE payment_intents
		SET refund_status = $2, updated_at = now()
		WHERE match_id = $1 AND refund_status IN ($3, $4)`

	tag, err := r.pool.Exec(ctx, query, matchID, RefundCompleted, RefundEligible, RefundProcessing)
	if err != nil {
		return 0, fmt.Errorf("payment: complete refunds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireRefunds fails refund eligibility past its deadline. Returns how many
// rows were expired.
func (r *Repository) ExpireRefunds(ctx context.Context) (int64, error) {
	const query = `
		UPDATE payment_intents
		SET refund_status = $1, updated_at = now()
		WHERE refund_status = $2 AND refund_deadline < now()`

	tag, err := r.pool.Exec(ctx, query, RefundFailed, RefundEligible)
	if err != nil {
		return 0, fmt.Errorf("payment: expire refunds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByUser returns the user's intents, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]Intent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT` + intentColumns + `
		FROM payment_intents WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("payment: list by user: %w", err)
	}
	defer rows.Close()

	out := make([]Intent, 0, limit)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("payment: scan intent: %w", err)
		}
		out = append(out, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment: iterate intents: %w", err)
	}
	return out, nil
}

func scanIntent(row pgx.Row) (Intent, error) {
	var i Intent
	err := row.Scan(
		&i.ID, &i.Reference, &i.UserID, &i.Amount, &i.MatchID,
		&i.RawStatus, &i.NormalizedStatus, &i.OracleTxID, &i.TxHash,
		&i.LockedAt, &i.LockedBy,
		&i.RetryCount, &i.LastRetryAt, &i.NextRetryAt, &i.LastError,
		&i.RefundStatus, &i.RefundDeadline, &i.RefundAmount, &i.RefundReason,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return Intent{}, err
	}
	return i, nil
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}
