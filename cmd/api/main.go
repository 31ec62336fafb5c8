package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tapduel/anticheat"
	"tapduel/auth"
	"tapduel/config"
	"tapduel/db"
	"tapduel/escrow"
	"tapduel/httpapi"
	"tapduel/logging"
	"tapduel/match"
	"tapduel/matchqueue"
	"tapduel/metrics"
	"tapduel/oracle"
	"tapduel/payment"
	"tapduel/session"
	"tapduel/timing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	log, err := logging.New("tapduel-api", cfg.Environment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database pool: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clock := timing.SystemClock()

	sessions := session.New(session.NewRedisStore(redisClient), clock, session.Config{
		QueueGrace:         cfg.QueueDisconnectGrace,
		StableThreshold:    cfg.StableConnectionThreshold,
		MaxHardReconnects:  cfg.MaxHardReconnects,
		MinFundingDuration: cfg.MinFundingDuration,
	}, log)

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)

	matchRepo := match.NewRepository(pool)
	paymentRepo := payment.NewRepository(pool)
	paymentSvc := payment.NewService(paymentRepo, log)

	escrowClient := escrow.NewIdempotentClient(
		escrow.NewHTTPClient(cfg.EscrowBackendURL, cfg.DevPortalAPIKey), matchRepo)
	oracleClient := oracle.NewHTTPClient(cfg.PaymentOracleURL, cfg.AppID, cfg.DevPortalAPIKey)

	detector := anticheat.NewDetector(matchRepo, matchRepo, log)

	orch := match.NewOrchestrator(matchRepo, paymentRepo, sessions, escrowClient,
		detector, clock, match.OrchestratorConfig{
			SignalDelayMin:       cfg.SignalDelayMin,
			SignalDelayMax:       cfg.SignalDelayMax,
			Countdown:            cfg.CountdownDuration,
			MaxReactionMs:        cfg.MaxReactionMs,
			ClockSyncToleranceMs: cfg.ClockSyncTolerance.Milliseconds(),
			TapWindowMs:          cfg.TapWindow.Milliseconds(),
			PlatformFeePercent:   cfg.PlatformFeePercent,
			ClaimWindow:          cfg.ClaimWindow,
			RefundWindow:         cfg.RefundWindow,
		}, log, m)

	queue := matchqueue.New(pool, sessions, orch, matchqueue.Config{
		Timeout:         cfg.MatchmakingTimeout,
		DisconnectGrace: cfg.QueueDisconnectGrace,
	}, log, m)

	sessions.Bind(matchRepo, orch, queue)

	watchdog := match.NewWatchdog(matchRepo, orch, paymentRepo, match.WatchdogConfig{
		ReadyTimeout:        cfg.MatchStartTimeout,
		FundingTimeout:      cfg.StakeDepositTimeout,
		TapWindowMs:         cfg.TapWindow.Milliseconds(),
		DisconnectThreshold: cfg.DisconnectThreshold,
		GCInterval:          cfg.GCSweepInterval,
		GCMaxAge:            cfg.GCMaxMatchAge,
	}, log)

	hostname, _ := os.Hostname()
	worker := payment.NewWorker(paymentRepo, oracleClient, payment.WorkerConfig{
		WorkerID:     fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		PollInterval: cfg.WorkerPollInterval,
		BatchSize:    cfg.WorkerBatchSize,
		LeaseTTL:     cfg.WorkerLeaseTTL,
		StaleWindow:  cfg.WorkerStaleWindow,
		RetryBase:    cfg.RetryBackoffBase,
		RetryMax:     cfg.RetryBackoffMax,
	}, log, m)

	server := httpapi.New(authSvc, orch, queue, paymentSvc, clock, log)
	router := server.Router(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return watchdog.Run(gctx) })
	g.Go(func() error {
		log.Info("listening", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Environment))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
