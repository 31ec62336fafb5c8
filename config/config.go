package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the service reads from the environment.
// Durations are stored resolved so callers never multiply by time.Millisecond.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	Environment string

	AppID                 string
	DevPortalAPIKey       string
	PlatformWalletAddress string
	EscrowContractAddress string
	EscrowBackendURL      string
	PaymentOracleURL      string
	WorldChainRPCURL      string
	FrontendURL           string

	SignalDelayMin    time.Duration
	SignalDelayMax    time.Duration
	CountdownDuration time.Duration
	MinReactionMs     int64
	MaxReactionMs     int64
	ClockSyncTolerance time.Duration
	TapWindow         time.Duration
	TieThresholdMs    int64

	PlatformFeePercent int64

	MatchmakingTimeout  time.Duration
	MatchStartTimeout   time.Duration
	StakeDepositTimeout time.Duration
	ClaimWindow         time.Duration
	RefundWindow        time.Duration
	QueueDisconnectGrace time.Duration

	WorkerPollInterval time.Duration
	WorkerBatchSize    int
	WorkerLeaseTTL     time.Duration
	WorkerStaleWindow  time.Duration
	RetryBackoffBase   time.Duration
	RetryBackoffMax    time.Duration

	HeartbeatInterval         time.Duration
	DisconnectThreshold       time.Duration
	StableConnectionThreshold time.Duration
	MaxHardReconnects         int
	MinFundingDuration        time.Duration

	GCSweepInterval time.Duration
	GCMaxMatchAge   time.Duration
}

// FromEnv builds a Config from the process environment, applying the
// documented defaults for anything unset.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Environment: getenv("APP_ENV", "development"),

		AppID:                 os.Getenv("APP_ID"),
		DevPortalAPIKey:       os.Getenv("DEV_PORTAL_API_KEY"),
		PlatformWalletAddress: os.Getenv("PLATFORM_WALLET_ADDRESS"),
		EscrowContractAddress: os.Getenv("ESCROW_CONTRACT_ADDRESS"),
		EscrowBackendURL:      os.Getenv("ESCROW_BACKEND_URL"),
		PaymentOracleURL:      os.Getenv("PAYMENT_ORACLE_URL"),
		WorldChainRPCURL:      os.Getenv("WORLD_CHAIN_RPC_URL"),
		FrontendURL:           os.Getenv("FRONTEND_URL"),
	}

	var err error
	if cfg.SignalDelayMin, err = envMillis("SIGNAL_DELAY_MIN_MS", 2000); err != nil {
		return Config{}, err
	}
	if cfg.SignalDelayMax, err = envMillis("SIGNAL_DELAY_MAX_MS", 5000); err != nil {
		return Config{}, err
	}
	if cfg.CountdownDuration, err = envMillis("COUNTDOWN_DURATION_MS", 3000); err != nil {
		return Config{}, err
	}
	if cfg.MinReactionMs, err = envInt64("MIN_REACTION_MS", 80); err != nil {
		return Config{}, err
	}
	if cfg.MaxReactionMs, err = envInt64("MAX_REACTION_MS", 3000); err != nil {
		return Config{}, err
	}
	if cfg.ClockSyncTolerance, err = envMillis("CLOCK_SYNC_TOLERANCE_MS", 50); err != nil {
		return Config{}, err
	}
	if cfg.TapWindow, err = envMillis("TAP_WINDOW_MS", 10000); err != nil {
		return Config{}, err
	}
	if cfg.TieThresholdMs, err = envInt64("TIE_THRESHOLD_MS", 1); err != nil {
		return Config{}, err
	}
	if cfg.PlatformFeePercent, err = envInt64("PLATFORM_FEE_PERCENT", 3); err != nil {
		return Config{}, err
	}
	if cfg.MatchmakingTimeout, err = envMillis("MATCHMAKING_TIMEOUT_MS", 30000); err != nil {
		return Config{}, err
	}
	if cfg.MatchStartTimeout, err = envMillis("MATCH_START_TIMEOUT_MS", 60000); err != nil {
		return Config{}, err
	}
	if cfg.StakeDepositTimeout, err = envMillis("STAKE_DEPOSIT_TIMEOUT_MS", 120000); err != nil {
		return Config{}, err
	}
	if cfg.ClaimWindow, err = envMillis("CLAIM_WINDOW_MS", 3600000); err != nil {
		return Config{}, err
	}
	if cfg.RefundWindow, err = envMillis("REFUND_WINDOW_MS", 86400000); err != nil {
		return Config{}, err
	}
	if cfg.QueueDisconnectGrace, err = envMillis("QUEUE_DISCONNECT_GRACE_MS", 30000); err != nil {
		return Config{}, err
	}
	if cfg.WorkerPollInterval, err = envMillis("PAYMENT_POLL_INTERVAL_MS", 10000); err != nil {
		return Config{}, err
	}
	if cfg.WorkerBatchSize, err = envInt("PAYMENT_BATCH_SIZE", 10); err != nil {
		return Config{}, err
	}
	if cfg.WorkerLeaseTTL, err = envMillis("PAYMENT_LEASE_TTL_MS", 60000); err != nil {
		return Config{}, err
	}
	if cfg.WorkerStaleWindow, err = envMillis("PAYMENT_STALE_WINDOW_MS", 600000); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoffBase, err = envMillis("PAYMENT_RETRY_BASE_MS", 5000); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoffMax, err = envMillis("PAYMENT_RETRY_MAX_MS", 60000); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatInterval, err = envMillis("HEARTBEAT_INTERVAL_MS", 5000); err != nil {
		return Config{}, err
	}
	if cfg.DisconnectThreshold, err = envMillis("DISCONNECT_THRESHOLD_MS", 30000); err != nil {
		return Config{}, err
	}
	if cfg.StableConnectionThreshold, err = envMillis("STABLE_CONNECTION_THRESHOLD_MS", 5000); err != nil {
		return Config{}, err
	}
	if cfg.MaxHardReconnects, err = envInt("MAX_HARD_RECONNECTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.MinFundingDuration, err = envMillis("MIN_FUNDING_DURATION_MS", 20000); err != nil {
		return Config{}, err
	}
	if cfg.GCSweepInterval, err = envMillis("GC_SWEEP_INTERVAL_MS", 300000); err != nil {
		return Config{}, err
	}
	if cfg.GCMaxMatchAge, err = envMillis("GC_MAX_MATCH_AGE_MS", 600000); err != nil {
		return Config{}, err
	}

	if cfg.SignalDelayMin <= 0 || cfg.SignalDelayMax < cfg.SignalDelayMin {
		return Config{}, fmt.Errorf("config: invalid signal delay range [%v, %v]", cfg.SignalDelayMin, cfg.SignalDelayMax)
	}
	if cfg.MinReactionMs < 0 || cfg.MaxReactionMs <= cfg.MinReactionMs {
		return Config{}, fmt.Errorf("config: invalid reaction bounds [%d, %d]", cfg.MinReactionMs, cfg.MaxReactionMs)
	}
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent > 100 {
		return Config{}, fmt.Errorf("config: invalid platform fee percent %d", cfg.PlatformFeePercent)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return n, nil
}

func envInt(key string, fallback int) (int, error) {
	n, err := envInt64(key, int64(fallback))
	return int(n), err
}

func envMillis(key string, fallbackMs int64) (time.Duration, error) {
	n, err := envInt64(key, fallbackMs)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("config: %s must be non-negative, got %d", key, n)
	}
	return time.Duration(n) * time.Millisecond, nil
}
