package escrow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	delay     time.Duration
	completed int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int)}
}

func (f *fakeBackend) bump(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeBackend) CreateMatch(ctx context.Context, matchID, p1, p2 string, stake decimal.Decimal) (Result, error) {
	f.bump(OpCreate)
	return Result{OK: true, TxHash: "0xcreate"}, nil
}

func (f *fakeBackend) CompleteMatch(ctx context.Context, matchID, winner string) (Result, error) {
	f.bump(OpComplete)
	atomic.AddInt32(&f.completed, 1)
	return Result{OK: true, TxHash: "0xcomplete"}, nil
}

func (f *fakeBackend) SplitPot(ctx context.Context, matchID string) (Result, error) {
	f.bump(OpSplit)
	return Result{OK: true, TxHash: "0xsplit"}, nil
}

func (f *fakeBackend) CancelMatch(ctx context.Context, matchID string) (Result, error) {
	f.bump(OpCancel)
	return Result{OK: true, TxHash: "0xcancel"}, nil
}

func (f *fakeBackend) GetMatch(ctx context.Context, matchID string) (*MatchInfo, error) {
	return nil, nil
}

type memLedger struct {
	mu   sync.Mutex
	rows map[string]string
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]string)}
}

func (m *memLedger) CompletedTransaction(ctx context.Context, matchID, kind string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.rows[matchID+"/"+kind]
	return hash, ok, nil
}

func (m *memLedger) RecordTransaction(ctx context.Context, matchID, kind, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[matchID+"/"+kind] = txHash
	return nil
}

func TestIdempotentClientLedgerReplay(t *testing.T) {
	backend := newFakeBackend()
	ledger := newMemLedger()
	client := NewIdempotentClient(backend, ledger)
	ctx := context.Background()

	res1, err := client.CompleteMatch(ctx, "m1", "0xwinner")
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	res2, err := client.CompleteMatch(ctx, "m1", "0xwinner")
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}

	if res1.TxHash != res2.TxHash {
		t.Fatalf("replay returned different hash: %s vs %s", res1.TxHash, res2.TxHash)
	}
	if got := atomic.LoadInt32(&backend.completed); got != 1 {
		t.Fatalf("backend called %d times, want 1", got)
	}
}

func TestIdempotentClientCollapsesConcurrentCalls(t *testing.T) {
	backend := newFakeBackend()
	backend.delay = 50 * time.Millisecond
	client := NewIdempotentClient(backend, newMemLedger())
	ctx := context.Background()

	const workers = 8
	results := make([]Result, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.CompleteMatch(ctx, "m2", "0xwinner")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].TxHash != "0xcomplete" {
			t.Fatalf("worker %d: unexpected hash %s", i, results[i].TxHash)
		}
	}
	if got := atomic.LoadInt32(&backend.completed); got != 1 {
		t.Fatalf("backend called %d times, want 1", got)
	}
}

func TestIdempotentClientDistinctOperationsDoNotCollide(t *testing.T) {
	backend := newFakeBackend()
	client := NewIdempotentClient(backend, newMemLedger())
	ctx := context.Background()

	if _, err := client.CancelMatch(ctx, "m3"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := client.CreateMatch(ctx, "m3", "0xa", "0xb", decimal.NewFromFloat(0.5)); err != nil {
		t.Fatalf("create: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.calls[OpCancel] != 1 || backend.calls[OpCreate] != 1 {
		t.Fatalf("unexpected call counts: %+v", backend.calls)
	}
}
