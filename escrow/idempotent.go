package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger records completed escrow operations so replays survive restarts.
// Implemented by the match repository over ledger_transactions.
type Ledger interface {
	// CompletedTransaction returns the recorded hash when the (match, kind)
	// operation already succeeded.
	CompletedTransaction(ctx context.Context, matchID, kind string) (txHash string, ok bool, err error)
	// RecordTransaction persists a completed operation. A unique-violation is
	// not an error: the first writer won.
	RecordTransaction(ctx context.Context, matchID, kind, txHash string) error
}

type inflightCall struct {
	done chan struct{}
	res  Result
	err  error
}

// IdempotentClient wraps a Client with two layers of duplicate suppression:
// a ledger check for operations that completed in any process, and an
// in-process lock keyed (operation, match_id) that collapses concurrent
// duplicates so the second waiter receives the first caller's result.
type IdempotentClient struct {
	inner  Client
	ledger Ledger

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// NewIdempotentClient wires the wrapper.
func NewIdempotentClient(inner Client, ledger Ledger) *IdempotentClient {
	return &IdempotentClient{
		inner:    inner,
		ledger:   ledger,
		inflight: make(map[string]*inflightCall),
	}
}

func (c *IdempotentClient) CreateMatch(ctx context.Context, matchID, p1Wallet, p2Wallet string, stake decimal.Decimal) (Result, error) {
	return c.once(ctx, OpCreate, matchID, func() (Result, error) {
		return c.inner.CreateMatch(ctx, matchID, p1Wallet, p2Wallet, stake)
	})
}

func (c *IdempotentClient) CompleteMatch(ctx context.Context, matchID, winnerWallet string) (Result, error) {
	return c.once(ctx, OpComplete, matchID, func() (Result, error) {
		return c.inner.CompleteMatch(ctx, matchID, winnerWallet)
	})
}

func (c *IdempotentClient) SplitPot(ctx context.Context, matchID string) (Result, error) {
	return c.once(ctx, OpSplit, matchID, func() (Result, error) {
		return c.inner.SplitPot(ctx, matchID)
	})
}

func (c *IdempotentClient) CancelMatch(ctx context.Context, matchID string) (Result, error) {
	return c.once(ctx, OpCancel, matchID, func() (Result, error) {
		return c.inner.CancelMatch(ctx, matchID)
	})
}

func (c *IdempotentClient) GetMatch(ctx context.Context, matchID string) (*MatchInfo, error) {
	return c.inner.GetMatch(ctx, matchID)
}

func (c *IdempotentClient) once(ctx context.Context, op, matchID string, fn func() (Result, error)) (Result, error) {
	if hash, ok, err := c.ledger.CompletedTransaction(ctx, matchID, op); err != nil {
		return Result{}, fmt.Errorf("escrow: ledger lookup %s/%s: %w", op, matchID, err)
	} else if ok {
		return Result{OK: true, TxHash: hash}, nil
	}

	key := op + ":" + matchID

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	call.res, call.err = fn()
	if call.err == nil && call.res.OK {
		if err := c.ledger.RecordTransaction(ctx, matchID, op, call.res.TxHash); err != nil {
			call.err = fmt.Errorf("escrow: record %s/%s: %w", op, matchID, err)
		}
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return call.res, call.err
}
