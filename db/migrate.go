package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order at startup. Every statement is idempotent
// (IF NOT EXISTS guards) so repeated boots and rolling deploys are safe.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS users (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		wallet_address  TEXT NOT NULL UNIQUE,
		username        TEXT,
		wins            INT NOT NULL DEFAULT 0,
		losses          INT NOT NULL DEFAULT 0,
		avg_reaction_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS matches (
		id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		idempotency_key       TEXT UNIQUE,
		player1_id            UUID NOT NULL REFERENCES users(id),
		player2_id            UUID NOT NULL REFERENCES users(id),
		player1_wallet        TEXT NOT NULL,
		player2_wallet        TEXT NOT NULL,
		stake_amount          NUMERIC(20,8) NOT NULL DEFAULT 0,
		status                TEXT NOT NULL DEFAULT 'matched',
		green_light_time      BIGINT,
		signal_delay_ms       BIGINT,
		winner_id             UUID REFERENCES users(id),
		result_type           TEXT,
		completed_at          TIMESTAMPTZ,
		player1_ready         BOOLEAN NOT NULL DEFAULT FALSE,
		player2_ready         BOOLEAN NOT NULL DEFAULT FALSE,
		player1_ready_at      TIMESTAMPTZ,
		player2_ready_at      TIMESTAMPTZ,
		player1_staked        BOOLEAN NOT NULL DEFAULT FALSE,
		player2_staked        BOOLEAN NOT NULL DEFAULT FALSE,
		player1_reaction_ms   BIGINT,
		player2_reaction_ms   BIGINT,
		player1_disqualified  BOOLEAN NOT NULL DEFAULT FALSE,
		player2_disqualified  BOOLEAN NOT NULL DEFAULT FALSE,
		platform_fee          NUMERIC(20,8),
		claim_status          TEXT,
		claim_deadline        TIMESTAMPTZ,
		winner_wallet         TEXT,
		loser_wallet          TEXT,
		player1_last_ping     TIMESTAMPTZ,
		player2_last_ping     TIMESTAMPTZ,
		player1_disconnects   INT NOT NULL DEFAULT 0,
		player2_disconnects   INT NOT NULL DEFAULT 0,
		cancel_reason         TEXT,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT matches_distinct_players CHECK (player1_id <> player2_id),
		CONSTRAINT matches_stake_non_negative CHECK (stake_amount >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_player1_completed ON matches (player1_id, completed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_player2_completed ON matches (player2_id, completed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches (status)`,

	`CREATE TABLE IF NOT EXISTS tap_events (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		match_id         UUID NOT NULL REFERENCES matches(id),
		user_id          UUID NOT NULL REFERENCES users(id),
		client_timestamp BIGINT,
		server_timestamp BIGINT NOT NULL,
		reaction_ms      BIGINT NOT NULL,
		is_valid         BOOLEAN NOT NULL DEFAULT FALSE,
		disqualified     BOOLEAN NOT NULL DEFAULT FALSE,
		dq_reason        TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT tap_events_one_per_player UNIQUE (match_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS payment_intents (
		id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		reference         TEXT NOT NULL UNIQUE,
		user_id           UUID NOT NULL REFERENCES users(id),
		amount            NUMERIC(20,8) NOT NULL,
		match_id          UUID REFERENCES matches(id),
		raw_status        TEXT,
		normalized_status TEXT NOT NULL DEFAULT 'pending',
		oracle_tx_id      TEXT,
		tx_hash           TEXT,
		locked_at         TIMESTAMPTZ,
		locked_by         TEXT,
		retry_count       INT NOT NULL DEFAULT 0,
		last_retry_at     TIMESTAMPTZ,
		next_retry_at     TIMESTAMPTZ,
		last_error        TEXT,
		refund_status     TEXT NOT NULL DEFAULT 'none',
		refund_deadline   TIMESTAMPTZ,
		refund_amount     NUMERIC(20,8),
		refund_reason     TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_user ON payment_intents (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_match ON payment_intents (match_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_status ON payment_intents (normalized_status)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_next_retry ON payment_intents (next_retry_at) WHERE next_retry_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_locked ON payment_intents (locked_at) WHERE locked_at IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		match_id   UUID NOT NULL REFERENCES matches(id),
		kind       TEXT NOT NULL,
		tx_hash    TEXT,
		status     TEXT NOT NULL DEFAULT 'completed',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT ledger_one_per_kind UNIQUE (match_id, kind)
	)`,

	`CREATE TABLE IF NOT EXISTS match_queue (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id         UUID NOT NULL REFERENCES users(id),
		stake           NUMERIC(20,8) NOT NULL,
		status          TEXT NOT NULL DEFAULT 'searching',
		disconnected_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_match_queue_pairing ON match_queue (stake, created_at) WHERE status = 'searching'`,
	`CREATE INDEX IF NOT EXISTS idx_match_queue_user ON match_queue (user_id)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id             BIGSERIAL PRIMARY KEY,
		match_id       UUID,
		user_id        UUID,
		type           TEXT NOT NULL,
		payload        JSONB NOT NULL DEFAULT '{}'::jsonb,
		correlation_id TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_match ON audit_events (match_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events (type)`,
}

// Migrate applies the schema to the connected database. Safe to call on every
// startup; statements are ordered so later tables can reference earlier ones.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: migration %d: %w", i, err)
		}
	}
	return nil
}
