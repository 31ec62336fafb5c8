package match

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RefundExpirer closes refund windows that ran out; implemented by the
// payment repository.
type RefundExpirer interface {
	ExpireRefunds(ctx context.Context) (int64, error)
}

// WatchdogConfig tunes the background sweeps.
type WatchdogConfig struct {
	// SweepInterval drives the time-critical sweeps: ready timeouts, tap
	// windows, abandonment.
	SweepInterval time.Duration

	ReadyTimeout        time.Duration
	FundingTimeout      time.Duration
	TapWindowMs         int64
	DisconnectThreshold time.Duration

	GCInterval time.Duration
	GCMaxAge   time.Duration
}

// Watchdog runs the deadline sweeps that finish what clients abandon: matches
// stuck before the signal, tap windows that closed with a tap missing, and
// the slow garbage-collection pass over anything non-terminal that outlived
// its welcome.
type Watchdog struct {
	repo    *Repository
	orch    *Orchestrator
	refunds RefundExpirer
	cfg     WatchdogConfig
	log     *zap.Logger
}

// NewWatchdog wires the sweeps.
func NewWatchdog(repo *Repository, orch *Orchestrator, refunds RefundExpirer, cfg WatchdogConfig, log *zap.Logger) *Watchdog {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Minute
	}
	return &Watchdog{repo: repo, orch: orch, refunds: refunds, cfg: cfg, log: log}
}

// Run loops both sweeps until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	fast := time.NewTicker(w.cfg.SweepInterval)
	defer fast.Stop()
	slow := time.NewTicker(w.cfg.GCInterval)
	defer slow.Stop()

	w.log.Info("match watchdog started",
		zap.Duration("sweep_interval", w.cfg.SweepInterval),
		zap.Duration("gc_interval", w.cfg.GCInterval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("match watchdog stopped")
			return ctx.Err()
		case <-fast.C:
			w.RunSweep(ctx)
		case <-slow.C:
			w.RunGC(ctx)
		}
	}
}

// RunSweep executes one pass of the time-critical sweeps. Exported so tests
// can drive passes directly.
func (w *Watchdog) RunSweep(ctx context.Context) {
	w.cancelTimedOut(ctx, StateReady, w.cfg.ReadyTimeout, CancelReadyTimeout)
	w.cancelTimedOut(ctx, StateFunding, w.cfg.FundingTimeout, CancelPaymentTimeout)
	w.settleExpiredWindows(ctx)
	w.cancelAbandoned(ctx)
}

// RunGC executes one garbage-collection pass.
func (w *Watchdog) RunGC(ctx context.Context) {
	stale, err := w.repo.ListStale(ctx, w.cfg.GCMaxAge)
	if err != nil {
		w.log.Error("list stale matches failed", zap.Error(err))
	} else {
		for i := range stale {
			if err := w.orch.CancelWithRefund(ctx, stale[i].ID, CancelStaleSweep); err != nil {
				w.log.Error("gc cancel failed", zap.String("match_id", stale[i].ID), zap.Error(err))
			}
		}
	}

	if n, err := w.repo.ExpireClaims(ctx); err != nil {
		w.log.Error("expire claims failed", zap.Error(err))
	} else if n > 0 {
		w.log.Info("expired unclaimed winnings", zap.Int64("count", n))
	}

	if n, err := w.refunds.ExpireRefunds(ctx); err != nil {
		w.log.Error("expire refunds failed", zap.Error(err))
	} else if n > 0 {
		w.log.Info("expired refund windows", zap.Int64("count", n))
	}
}

func (w *Watchdog) cancelTimedOut(ctx context.Context, state State, age time.Duration, reason string) {
	if age <= 0 {
		return
	}
	timedOut, err := w.repo.ListTimedOut(ctx, state, age)
	if err != nil {
		w.log.Error("list timed-out matches failed",
			zap.String("state", string(state)), zap.Error(err))
		return
	}
	for i := range timedOut {
		if err := w.orch.CancelWithRefund(ctx, timedOut[i].ID, reason); err != nil {
			w.log.Error("timeout cancel failed",
				zap.String("match_id", timedOut[i].ID),
				zap.String("reason", reason),
				zap.Error(err))
		}
	}
}

func (w *Watchdog) settleExpiredWindows(ctx context.Context) {
	expired, err := w.repo.ListExpiredTapWindows(ctx, w.cfg.TapWindowMs)
	if err != nil {
		w.log.Error("list expired tap windows failed", zap.Error(err))
		return
	}
	for i := range expired {
		if err := w.orch.SettleExpiredWindow(ctx, expired[i].ID); err != nil {
			w.log.Error("window settlement failed",
				zap.String("match_id", expired[i].ID), zap.Error(err))
		}
	}
}

func (w *Watchdog) cancelAbandoned(ctx context.Context) {
	if w.cfg.DisconnectThreshold <= 0 {
		return
	}
	abandoned, err := w.repo.ListAbandoned(ctx, w.cfg.DisconnectThreshold)
	if err != nil {
		w.log.Error("list abandoned matches failed", zap.Error(err))
		return
	}
	for i := range abandoned {
		if err := w.orch.CancelWithRefund(ctx, abandoned[i].ID, CancelAbandoned); err != nil {
			w.log.Error("abandon cancel failed",
				zap.String("match_id", abandoned[i].ID), zap.Error(err))
		}
	}
}
