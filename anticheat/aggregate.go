package anticheat

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Aggregate thresholds over recent tap history.
const (
	botStddevLimitMs   = 10.0
	botMeanLimitMs     = 150.0
	botMinSamples      = 10
	inhumanMeanLimitMs = 100.0
	inhumanMinSamples  = 5
	winRateLimit       = 0.9
	winRateMinMatches  = 20
	winRateWindow      = 7 * 24 * time.Hour
)

// HistoryReader supplies the recent play history the aggregate checks need.
type HistoryReader interface {
	// RecentReactions returns up to limit valid reactions for the user,
	// newest first.
	RecentReactions(ctx context.Context, userID string, limit int) ([]int64, error)
	// WinStats returns completed matches and wins for the user inside the
	// window.
	WinStats(ctx context.Context, userID string, window time.Duration) (completed, wins int, err error)
}

// AuditSink records findings. Findings never block the current match.
type AuditSink interface {
	RecordFinding(ctx context.Context, userID, kind string, payload map[string]any) error
}

// Finding kinds written to the audit log.
const (
	FindingBotConsistency = "anticheat.bot_consistency"
	FindingInhumanMean    = "anticheat.inhuman_mean"
	FindingHighWinRate    = "anticheat.high_win_rate"
)

// Detector runs the aggregate checks for one user after a match completes.
type Detector struct {
	history HistoryReader
	audit   AuditSink
	log     *zap.Logger
}

// NewDetector wires an aggregate detector.
func NewDetector(history HistoryReader, audit AuditSink, log *zap.Logger) *Detector {
	return &Detector{history: history, audit: audit, log: log}
}

// Inspect evaluates every aggregate check for the user and appends findings.
// Errors are logged and swallowed: detection is advisory.
func (d *Detector) Inspect(ctx context.Context, userID string) {
	if err := d.inspectReactions(ctx, userID); err != nil {
		d.log.Warn("anticheat reaction inspection failed", zap.String("user_id", userID), zap.Error(err))
	}
	if err := d.inspectWinRate(ctx, userID); err != nil {
		d.log.Warn("anticheat win-rate inspection failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (d *Detector) inspectReactions(ctx context.Context, userID string) error {
	reactions, err := d.history.RecentReactions(ctx, userID, botMinSamples*2)
	if err != nil {
		return fmt.Errorf("anticheat: load reactions: %w", err)
	}

	if len(reactions) >= inhumanMinSamples {
		mean := meanOf(reactions[:min(len(reactions), botMinSamples)])
		if mean < inhumanMeanLimitMs {
			if err := d.audit.RecordFinding(ctx, userID, FindingInhumanMean, map[string]any{
				"mean_ms": mean,
				"samples": len(reactions),
			}); err != nil {
				return err
			}
		}
	}

	if len(reactions) >= botMinSamples {
		window := reactions[:botMinSamples]
		mean := meanOf(window)
		sd := stddevOf(window, mean)
		if sd < botStddevLimitMs && mean < botMeanLimitMs {
			if err := d.audit.RecordFinding(ctx, userID, FindingBotConsistency, map[string]any{
				"mean_ms":   mean,
				"stddev_ms": sd,
				"samples":   len(window),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Detector) inspectWinRate(ctx context.Context, userID string) error {
	completed, wins, err := d.history.WinStats(ctx, userID, winRateWindow)
	if err != nil {
		return fmt.Errorf("anticheat: load win stats: %w", err)
	}
	if completed < winRateMinMatches {
		return nil
	}
	rate := float64(wins) / float64(completed)
	if rate > winRateLimit {
		return d.audit.RecordFinding(ctx, userID, FindingHighWinRate, map[string]any{
			"completed": completed,
			"wins":      wins,
			"rate":      rate,
		})
	}
	return nil
}

func meanOf(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func stddevOf(values []int64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var acc float64
	for _, v := range values {
		diff := float64(v) - mean
		acc += diff * diff
	}
	return math.Sqrt(acc / float64(len(values)))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
