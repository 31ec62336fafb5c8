// Package session coordinates per-user connection state: the single active
// match gate, the one-connection rule, and disconnect classification. All of
// it lives in an ephemeral KV with TTLs; the store remains the source of
// truth and every key can be rebuilt from it.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tapduel/match"
	"tapduel/timing"
)

// Store is the KV slice the coordinator needs. Keys carry TTLs; a missing key
// reads as the empty string.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// MatchControl is the match surface used for disconnect accounting.
type MatchControl interface {
	GetByID(ctx context.Context, id string) (match.Match, error)
	IncrementDisconnects(ctx context.Context, matchID, userID string) (int, error)
}

// Canceller terminates a match; implemented by the orchestrator.
type Canceller interface {
	CancelWithRefund(ctx context.Context, matchID, reason string) error
}

// QueueControl is the matchmaking surface for disconnect grace handling.
type QueueControl interface {
	MarkDisconnected(ctx context.Context, userID string) error
	Restore(ctx context.Context, userID string) error
}

// Config tunes the coordinator.
type Config struct {
	ActiveMatchTTL  time.Duration
	ActiveSocketTTL time.Duration
	QueueGrace      time.Duration

	// StableThreshold separates early disconnects (client remounts) from
	// hard disconnects that count toward cancellation.
	StableThreshold    time.Duration
	MaxHardReconnects  int
	MinFundingDuration time.Duration
}

// Coordinator enforces the session rules.
type Coordinator struct {
	store   Store
	matches MatchControl
	cancel  Canceller
	queue   QueueControl
	clock   timing.Clock
	cfg     Config
	log     *zap.Logger
}

// New wires the coordinator. cancel and queue may be set later via Bind to
// break the construction cycle with the orchestrator.
func New(store Store, clock timing.Clock, cfg Config, log *zap.Logger) *Coordinator {
	if cfg.ActiveMatchTTL <= 0 {
		cfg.ActiveMatchTTL = 2 * time.Hour
	}
	if cfg.ActiveSocketTTL <= 0 {
		cfg.ActiveSocketTTL = time.Hour
	}
	if cfg.QueueGrace <= 0 {
		cfg.QueueGrace = 30 * time.Second
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = 5 * time.Second
	}
	if cfg.MaxHardReconnects <= 0 {
		cfg.MaxHardReconnects = 5
	}
	if cfg.MinFundingDuration <= 0 {
		cfg.MinFundingDuration = 20 * time.Second
	}
	return &Coordinator{store: store, clock: clock, cfg: cfg, log: log}
}

// Bind attaches the match-side collaborators after construction.
func (c *Coordinator) Bind(matches MatchControl, cancel Canceller, queue QueueControl) {
	c.matches = matches
	c.cancel = cancel
	c.queue = queue
}

func activeMatchKey(userID string) string { return "active_match:" + userID }
func activeSocketKey(userID string) string { return "active_socket:" + userID }
func queueDisconnectKey(userID string) string { return "queue_disconnect:" + userID }

// SetActiveMatch records the user's current match.
func (c *Coordinator) SetActiveMatch(ctx context.Context, userID, matchID string) error {
	if err := c.store.SetTTL(ctx, activeMatchKey(userID), matchID, c.cfg.ActiveMatchTTL); err != nil {
		return fmt.Errorf("session: set active match: %w", err)
	}
	return nil
}

// ClearActiveMatch removes the gate once the match is terminal.
func (c *Coordinator) ClearActiveMatch(ctx context.Context, userID string) error {
	if err := c.store.Del(ctx, activeMatchKey(userID)); err != nil {
		return fmt.Errorf("session: clear active match: %w", err)
	}
	return nil
}

// ActiveMatch returns the user's current match id, or "".
func (c *Coordinator) ActiveMatch(ctx context.Context, userID string) (string, error) {
	v, err := c.store.Get(ctx, activeMatchKey(userID))
	if err != nil {
		return "", fmt.Errorf("session: get active match: %w", err)
	}
	return v, nil
}

// Connect registers a new connection. Any prior connection is forcibly
// replaced; a queued user reconnecting inside the grace window gets their
// queue entry restored in place.
func (c *Coordinator) Connect(ctx context.Context, userID, connectionID string) (replaced bool, err error) {
	prior, err := c.store.Get(ctx, activeSocketKey(userID))
	if err != nil {
		return false, fmt.Errorf("session: get active socket: %w", err)
	}
	if err := c.store.SetTTL(ctx, activeSocketKey(userID), connectionID, c.cfg.ActiveSocketTTL); err != nil {
		return false, fmt.Errorf("session: set active socket: %w", err)
	}

	if pending, err := c.store.Get(ctx, queueDisconnectKey(userID)); err == nil && pending != "" {
		if err := c.queue.Restore(ctx, userID); err != nil {
			c.log.Warn("queue restore failed", zap.String("user_id", userID), zap.Error(err))
		}
		if err := c.store.Del(ctx, queueDisconnectKey(userID)); err != nil {
			c.log.Warn("clear queue disconnect failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return prior != "" && prior != connectionID, nil
}

// Disconnect handles a closed connection. A stale connection id (already
// replaced by a newer Connect) is ignored. Early disconnects do not count
// toward the hard-disconnect counter.
func (c *Coordinator) Disconnect(ctx context.Context, userID, connectionID string, lifetime time.Duration) error {
	current, err := c.store.Get(ctx, activeSocketKey(userID))
	if err != nil {
		return fmt.Errorf("session: get active socket: %w", err)
	}
	if current != connectionID {
		return nil
	}
	if err := c.store.Del(ctx, activeSocketKey(userID)); err != nil {
		return fmt.Errorf("session: clear active socket: %w", err)
	}

	// A queued user keeps their spot for the grace window.
	if err := c.queue.MarkDisconnected(ctx, userID); err != nil {
		c.log.Warn("mark queue disconnect failed", zap.String("user_id", userID), zap.Error(err))
	} else if err := c.store.SetTTL(ctx, queueDisconnectKey(userID), connectionID, c.cfg.QueueGrace); err != nil {
		c.log.Warn("set queue disconnect key failed", zap.String("user_id", userID), zap.Error(err))
	}

	if lifetime < c.cfg.StableThreshold {
		return nil
	}

	matchID, err := c.ActiveMatch(ctx, userID)
	if err != nil || matchID == "" {
		return err
	}

	count, err := c.matches.IncrementDisconnects(ctx, matchID, userID)
	if err != nil {
		return fmt.Errorf("session: count disconnect: %w", err)
	}
	if count <= c.cfg.MaxHardReconnects {
		return nil
	}

	m, err := c.matches.GetByID(ctx, matchID)
	if err != nil {
		return fmt.Errorf("session: load match for cancel: %w", err)
	}
	if c.fundingGuard(&m) {
		c.log.Info("max-reconnect cancel suppressed during initial funding",
			zap.String("match_id", matchID), zap.String("user_id", userID))
		return nil
	}

	c.log.Warn("cancelling match after repeated disconnects",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.Int("hard_disconnects", count))
	return c.cancel.CancelWithRefund(ctx, matchID, match.CancelMaxReconnects)
}

// fundingGuard suppresses the max-reconnect cancel for rapid client remounts
// right after a staked match is created.
func (c *Coordinator) fundingGuard(m *match.Match) bool {
	return m.Status == match.StateFunding &&
		!m.Player1Ready && !m.Player2Ready &&
		m.GreenLightTime == nil &&
		c.clock.Now().Sub(m.CreatedAt) < c.cfg.MinFundingDuration
}
