package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the cross-table invariants checked during stress runs. Each
// query returns rows only when the invariant is violated.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_active_match",
			SQL: `SELECT player_id, COUNT(*) FROM (
                      SELECT player1_id AS player_id FROM matches
                      WHERE status IN ('matched','funding','ready','started')
                      UNION ALL
                      SELECT player2_id FROM matches
                      WHERE status IN ('matched','funding','ready','started')
                  ) active
                  GROUP BY player_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_completed_has_result",
			SQL: `SELECT id FROM matches
                  WHERE status = 'completed'
                    AND (result_type IS NULL OR completed_at IS NULL)`,
		},
		{
			Name: "O3_winner_matches_result",
			SQL: `SELECT id, result_type, winner_id FROM matches
                  WHERE status = 'completed' AND (
                      (result_type IN ('tie','both_disqualified','both_timeout_tie') AND winner_id IS NOT NULL)
                   OR (result_type IN ('normal_win','player1_timeout','player2_timeout',
                                       'player1_slow_win','player2_slow_win') AND winner_id IS NULL))`,
		},
		{
			Name: "O4_signal_armed_consistently",
			SQL: `SELECT id FROM matches
                  WHERE (status IN ('started','completed') AND green_light_time IS NULL)
                     OR (green_light_time IS NOT NULL AND signal_delay_ms IS NULL)`,
		},
		{
			Name: "O5_claim_requires_winner",
			SQL: `SELECT id FROM matches
                  WHERE claim_status IN ('unclaimed','claimed')
                    AND (status <> 'completed' OR winner_id IS NULL OR claim_deadline IS NULL)`,
		},
		{
			Name: "O6_fee_only_with_winner",
			SQL: `SELECT id FROM matches
                  WHERE platform_fee IS NOT NULL AND winner_id IS NULL`,
		},
		{
			Name: "O7_one_tap_per_player",
			SQL: `SELECT match_id, user_id, COUNT(*) FROM tap_events
                  GROUP BY match_id, user_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_refund_on_terminal_only",
			SQL: `SELECT p.reference FROM payment_intents p
                  JOIN matches m ON m.id = p.match_id
                  WHERE p.refund_status IN ('eligible','processing','completed')
                    AND m.status NOT IN ('cancelled','completed','refunded')`,
		},
		{
			Name: "O9_queue_no_duplicate_entries",
			SQL: `SELECT user_id, COUNT(*) FROM match_queue
                  WHERE status = 'searching'
                  GROUP BY user_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O10_ledger_one_op_per_match",
			SQL: `SELECT match_id, kind, COUNT(*) FROM ledger_transactions
                  GROUP BY match_id, kind HAVING COUNT(*) > 1`,
		},
		{
			Name: "O11_terminal_matches_have_audit",
			SQL: `SELECT m.id FROM matches m
                  WHERE m.status IN ('completed','cancelled')
                    AND NOT EXISTS (
                        SELECT 1 FROM audit_events a
                        WHERE a.match_id = m.id
                          AND a.type IN ('match.completed','match.cancelled'))`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
