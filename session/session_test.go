package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"tapduel/match"
	"tapduel/timing"
)

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	return s.data[key], nil
}

func (s *memStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	s.data[key] = value
	return nil
}

func (s *memStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

type fakeMatches struct {
	m      match.Match
	counts map[string]int
}

func (f *fakeMatches) GetByID(ctx context.Context, id string) (match.Match, error) {
	return f.m, nil
}

func (f *fakeMatches) IncrementDisconnects(ctx context.Context, matchID, userID string) (int, error) {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[userID]++
	return f.counts[userID], nil
}

type fakeCanceller struct {
	cancelled []string
	reasons   []string
}

func (f *fakeCanceller) CancelWithRefund(ctx context.Context, matchID, reason string) error {
	f.cancelled = append(f.cancelled, matchID)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeQueue struct {
	marked   []string
	restored []string
}

func (f *fakeQueue) MarkDisconnected(ctx context.Context, userID string) error {
	f.marked = append(f.marked, userID)
	return nil
}

func (f *fakeQueue) Restore(ctx context.Context, userID string) error {
	f.restored = append(f.restored, userID)
	return nil
}

func newCoordinator(t *testing.T, m match.Match) (*Coordinator, *memStore, *fakeCanceller, *fakeQueue) {
	t.Helper()
	store := newMemStore()
	clock := &timing.FixedClock{Instant: time.Now()}
	c := New(store, clock, Config{
		StableThreshold:    5 * time.Second,
		MaxHardReconnects:  2,
		MinFundingDuration: 20 * time.Second,
	}, zap.NewNop())
	canceller := &fakeCanceller{}
	queue := &fakeQueue{}
	c.Bind(&fakeMatches{m: m}, canceller, queue)
	return c, store, canceller, queue
}

func TestActiveMatchGate(t *testing.T) {
	c, _, _, _ := newCoordinator(t, match.Match{})
	ctx := context.Background()

	if err := c.SetActiveMatch(ctx, "u1", "m1"); err != nil {
		t.Fatal(err)
	}
	got, err := c.ActiveMatch(ctx, "u1")
	if err != nil || got != "m1" {
		t.Fatalf("ActiveMatch = %q, %v; want m1", got, err)
	}
	if err := c.ClearActiveMatch(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.ActiveMatch(ctx, "u1"); got != "" {
		t.Errorf("gate not cleared: %q", got)
	}
}

func TestConnectReplacesPriorConnection(t *testing.T) {
	c, _, _, _ := newCoordinator(t, match.Match{})
	ctx := context.Background()

	if replaced, _ := c.Connect(ctx, "u1", "conn-a"); replaced {
		t.Error("first connection should not report a replacement")
	}
	replaced, err := c.Connect(ctx, "u1", "conn-b")
	if err != nil {
		t.Fatal(err)
	}
	if !replaced {
		t.Error("second connection must replace the first")
	}
}

func TestStaleDisconnectIgnored(t *testing.T) {
	c, store, canceller, _ := newCoordinator(t, match.Match{})
	ctx := context.Background()

	c.Connect(ctx, "u1", "conn-a")
	c.Connect(ctx, "u1", "conn-b")

	// conn-a was already replaced; its disconnect must be a no-op.
	if err := c.Disconnect(ctx, "u1", "conn-a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if store.data[activeSocketKey("u1")] != "conn-b" {
		t.Errorf("live socket clobbered: %q", store.data[activeSocketKey("u1")])
	}
	if len(canceller.cancelled) != 0 {
		t.Errorf("unexpected cancellations: %v", canceller.cancelled)
	}
}

func TestEarlyDisconnectDoesNotCount(t *testing.T) {
	c, _, canceller, _ := newCoordinator(t, match.Match{Status: match.StateStarted})
	ctx := context.Background()

	c.SetActiveMatch(ctx, "u1", "m1")
	for i := 0; i < 10; i++ {
		c.Connect(ctx, "u1", "conn")
		if err := c.Disconnect(ctx, "u1", "conn", time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if len(canceller.cancelled) != 0 {
		t.Errorf("early disconnects must not trigger cancellation: %v", canceller.cancelled)
	}
}

func TestMaxReconnectsCancelsMatch(t *testing.T) {
	c, _, canceller, _ := newCoordinator(t, match.Match{Status: match.StateStarted})
	ctx := context.Background()

	c.SetActiveMatch(ctx, "u1", "m1")
	for i := 0; i < 3; i++ {
		c.Connect(ctx, "u1", "conn")
		if err := c.Disconnect(ctx, "u1", "conn", time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != "m1" {
		t.Fatalf("expected m1 cancelled once, got %v", canceller.cancelled)
	}
	if canceller.reasons[0] != match.CancelMaxReconnects {
		t.Errorf("reason = %q", canceller.reasons[0])
	}
}

func TestFundingGuardSuppressesCancel(t *testing.T) {
	now := time.Now()
	m := match.Match{Status: match.StateFunding, CreatedAt: now}
	store := newMemStore()
	clock := &timing.FixedClock{Instant: now.Add(5 * time.Second)}
	c := New(store, clock, Config{
		StableThreshold:    5 * time.Second,
		MaxHardReconnects:  2,
		MinFundingDuration: 20 * time.Second,
	}, zap.NewNop())
	canceller := &fakeCanceller{}
	c.Bind(&fakeMatches{m: m}, canceller, &fakeQueue{})
	ctx := context.Background()

	c.SetActiveMatch(ctx, "u1", "m1")
	for i := 0; i < 4; i++ {
		c.Connect(ctx, "u1", "conn")
		if err := c.Disconnect(ctx, "u1", "conn", time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	if len(canceller.cancelled) != 0 {
		t.Errorf("funding guard must suppress cancellation: %v", canceller.cancelled)
	}

	// Past the minimum funding age the guard no longer applies.
	clock.Advance(30 * time.Second)
	c.Connect(ctx, "u1", "conn")
	if err := c.Disconnect(ctx, "u1", "conn", time.Minute); err != nil {
		t.Fatal(err)
	}
	if len(canceller.cancelled) != 1 {
		t.Errorf("expected cancellation after guard window, got %v", canceller.cancelled)
	}
}

func TestReconnectRestoresQueueEntry(t *testing.T) {
	c, store, _, queue := newCoordinator(t, match.Match{})
	ctx := context.Background()

	c.Connect(ctx, "u1", "conn-a")
	if err := c.Disconnect(ctx, "u1", "conn-a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if len(queue.marked) != 1 {
		t.Fatalf("queue entry not marked disconnected: %v", queue.marked)
	}
	if store.data[queueDisconnectKey("u1")] == "" {
		t.Fatal("grace key missing")
	}

	c.Connect(ctx, "u1", "conn-b")
	if len(queue.restored) != 1 || queue.restored[0] != "u1" {
		t.Fatalf("queue entry not restored: %v", queue.restored)
	}
	if store.data[queueDisconnectKey("u1")] != "" {
		t.Error("grace key not cleared after restore")
	}
}
