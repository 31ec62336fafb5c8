package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tapduel/breaker"
)

func TestGetTransactionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/minikit/transaction/tx-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("app_id"); got != "app_1" {
			t.Errorf("unexpected app_id %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transaction_id":"tx-123","reference":"ref1","transaction_status":"mined","transaction_hash":"0xdead"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "app_1", "key")
	tx, err := client.GetTransaction(context.Background(), "tx-123")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.Status != "mined" || tx.TxHash != "0xdead" || tx.Reference != "ref1" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "app_1", "")
	_, err := client.GetTransaction(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// A definitive 404 must not count as an upstream failure.
	if stats := client.BreakerStats(); stats.TotalFailures != 0 {
		t.Fatalf("404 tripped breaker failure count: %+v", stats)
	}
}

func TestGetTransactionServerErrorsTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "app_1", "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := client.GetTransaction(ctx, "tx"); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	_, err := client.GetTransaction(ctx, "tx")
	if !breaker.IsOpenError(err) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 5 {
		t.Fatalf("upstream hit %d times, want 5", got)
	}
}
