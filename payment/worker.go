package payment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tapduel/breaker"
	"tapduel/metrics"
	"tapduel/oracle"
)

// WorkerStore is the lease-oriented repository surface the worker drives.
type WorkerStore interface {
	ExpireStale(ctx context.Context, staleWindow time.Duration) (int64, error)
	LeaseBatch(ctx context.Context, workerID string, batchSize int, leaseTTL time.Duration) ([]Intent, error)
	ReleaseLease(ctx context.Context, reference string) error
	ApplyOracleResult(ctx context.Context, reference, rawStatus, normalized string, txHash, lastError *string) error
	ScheduleRetry(ctx context.Context, reference string, retryCount int, base, max time.Duration, lastError string) error
}

// WorkerConfig tunes the polling loop.
type WorkerConfig struct {
	WorkerID     string
	PollInterval time.Duration
	BatchSize    int
	LeaseTTL     time.Duration
	StaleWindow  time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
}

// Worker advances pending payment intents by polling the oracle. It holds no
// transaction across external I/O: leases are committed first, so a crash
// mid-cycle costs at most one lease TTL before another worker resumes.
type Worker struct {
	store   WorkerStore
	oracle  oracle.Client
	cfg     WorkerConfig
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewWorker wires the background payment worker.
func NewWorker(store WorkerStore, oracleClient oracle.Client, cfg WorkerConfig, log *zap.Logger, m *metrics.Metrics) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = 10 * time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = time.Minute
	}
	return &Worker{store: store, oracle: oracleClient, cfg: cfg, log: log, metrics: m}
}

// Run loops until ctx is cancelled. A failing cycle is logged, never fatal.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info("payment worker started",
		zap.String("worker_id", w.cfg.WorkerID),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("payment worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.RunCycle(ctx)
		}
	}
}

// RunCycle executes one expire/lease/process pass. Exported so tests and the
// admin surface can drive cycles directly.
func (w *Worker) RunCycle(ctx context.Context) {
	w.metrics.PaymentCycles.Inc()

	expired, err := w.store.ExpireStale(ctx, w.cfg.StaleWindow)
	if err != nil {
		w.log.Error("expire stale intents failed", zap.Error(err))
	} else if expired > 0 {
		w.metrics.PaymentStale.Add(float64(expired))
		w.log.Info("expired stale payment intents", zap.Int64("count", expired))
	}

	leased, err := w.store.LeaseBatch(ctx, w.cfg.WorkerID, w.cfg.BatchSize, w.cfg.LeaseTTL)
	if err != nil {
		w.log.Error("lease batch failed", zap.Error(err))
		return
	}
	if len(leased) == 0 {
		return
	}
	w.metrics.PaymentLeased.Add(float64(len(leased)))

	for i := range leased {
		w.processIntent(ctx, &leased[i])
	}
}

func (w *Worker) processIntent(ctx context.Context, intent *Intent) {
	log := w.log.With(zap.String("reference", intent.Reference))

	if intent.OracleTxID == nil || *intent.OracleTxID == "" {
		// Nothing to poll yet; the stale sweep handles abandonment.
		w.release(ctx, intent.Reference, "no_transaction")
		return
	}

	tx, err := w.oracle.GetTransaction(ctx, *intent.OracleTxID)
	switch {
	case errors.Is(err, oracle.ErrNotFound):
		reason := ReasonNotFound
		if applyErr := w.store.ApplyOracleResult(ctx, intent.Reference, "not_found", StatusFailed, nil, &reason); applyErr != nil {
			log.Error("apply not-found result failed", zap.Error(applyErr))
			return
		}
		w.metrics.PaymentProcessed.WithLabelValues("not_found").Inc()
		log.Info("payment intent failed: oracle has no transaction")
		return

	case breaker.IsOpenError(err):
		// Circuit open: back off naturally on the next cycle without
		// burning a retry.
		w.release(ctx, intent.Reference, "circuit_open")
		return

	case err != nil:
		if retryErr := w.store.ScheduleRetry(ctx, intent.Reference, intent.RetryCount, w.cfg.RetryBase, w.cfg.RetryMax, err.Error()); retryErr != nil {
			log.Error("schedule retry failed", zap.Error(retryErr))
			return
		}
		w.metrics.PaymentProcessed.WithLabelValues("retry").Inc()
		log.Warn("oracle poll failed, retry scheduled",
			zap.Int("retry_count", intent.RetryCount+1), zap.Error(err))
		return
	}

	normalized := NormalizeStatus(tx.Status)

	if normalized == StatusConfirmed && tx.TxHash == "" {
		// Confirmed without a chain hash is not settleable yet; stay pending
		// and poll again shortly.
		if retryErr := w.store.ScheduleRetry(ctx, intent.Reference, intent.RetryCount, w.cfg.RetryBase, w.cfg.RetryMax, "confirmed_missing_hash"); retryErr != nil {
			log.Error("schedule hash retry failed", zap.Error(retryErr))
		}
		w.metrics.PaymentProcessed.WithLabelValues("missing_hash").Inc()
		return
	}

	var hash *string
	if tx.TxHash != "" {
		hash = &tx.TxHash
	}
	if err := w.store.ApplyOracleResult(ctx, intent.Reference, tx.Status, normalized, hash, nil); err != nil {
		log.Error("apply oracle result failed", zap.Error(err))
		return
	}
	w.metrics.PaymentProcessed.WithLabelValues(normalized).Inc()
	if normalized != StatusPending {
		log.Info("payment intent settled",
			zap.String("raw_status", tx.Status),
			zap.String("normalized_status", normalized))
	}
}

func (w *Worker) release(ctx context.Context, reference, outcome string) {
	if err := w.store.ReleaseLease(ctx, reference); err != nil {
		w.log.Error("release lease failed", zap.String("reference", reference), zap.Error(err))
		return
	}
	w.metrics.PaymentProcessed.WithLabelValues(outcome).Inc()
}
