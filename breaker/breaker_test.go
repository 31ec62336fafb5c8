package breaker

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := New("oracle", cfg).WithClock(func() time.Time { return now })
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 30 * time.Second})

	for i := 0; i < 3; i++ {
		if err := b.Call(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}

	err := b.Call(func() error {
		t.Fatal("call must not pass through while open")
		return nil
	})
	if !IsOpenError(err) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if b.Stats().State != StateOpen {
		t.Fatalf("expected open, got %v", b.Stats().State)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second})

	if err := b.Call(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	*now = now.Add(31 * time.Second)

	// First probe transitions to half-open.
	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if got := b.Stats().State; got != StateHalfOpen {
		t.Fatalf("expected half_open after one success, got %v", got)
	}
	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := b.Stats().State; got != StateClosed {
		t.Fatalf("expected closed after success threshold, got %v", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second})

	_ = b.Call(func() error { return errUpstream })
	*now = now.Add(31 * time.Second)

	if err := b.Call(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if got := b.Stats().State; got != StateOpen {
		t.Fatalf("expected reopened breaker, got %v", got)
	}

	// The opened-at stamp was reset, so the next call is rejected again.
	if err := b.Call(func() error { return nil }); !IsOpenError(err) {
		t.Fatalf("expected OpenError, got %v", err)
	}
}

func TestBreakerManualReset(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})

	_ = b.Call(func() error { return errUpstream })
	if b.Stats().State != StateOpen {
		t.Fatal("expected open")
	}
	b.Reset()
	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})

	_ = b.Call(func() error { return errUpstream })
	_ = b.Call(func() error { return errUpstream })
	_ = b.Call(func() error { return nil })
	_ = b.Call(func() error { return errUpstream })
	_ = b.Call(func() error { return errUpstream })

	if got := b.Stats().State; got != StateClosed {
		t.Fatalf("streak should have been reset by success, got %v", got)
	}
}
