// Package oracle polls the external payment oracle for transaction status.
// The oracle is opaque REST; all interpretation of its statuses happens in
// the payment package.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tapduel/breaker"
)

// ErrNotFound signals the oracle has no record of the transaction. Terminal:
// the worker fails the intent instead of retrying.
var ErrNotFound = errors.New("oracle: transaction not found")

// Transaction is the oracle's view of one payment.
type Transaction struct {
	ID        string `json:"transaction_id"`
	Reference string `json:"reference"`
	Status    string `json:"transaction_status"`
	TxHash    string `json:"transaction_hash"`
}

// Client fetches transaction status.
type Client interface {
	GetTransaction(ctx context.Context, transactionID string) (*Transaction, error)
}

// HTTPClient is the production oracle client. Every call goes through the
// circuit breaker; callers must treat *breaker.OpenError as
// non-retry-incrementing.
type HTTPClient struct {
	baseURL string
	appID   string
	apiKey  string
	client  *http.Client
	cb      *breaker.Breaker
}

// NewHTTPClient builds the oracle client with its own breaker.
func NewHTTPClient(baseURL, appID, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		appID:   appID,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		cb:      breaker.New("payment-oracle", breaker.OracleDefaults()),
	}
}

// BreakerStats exposes the breaker snapshot for metrics and admin views.
func (c *HTTPClient) BreakerStats() breaker.Stats { return c.cb.Stats() }

// GetTransaction fetches the oracle record for transactionID.
func (c *HTTPClient) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	var out *Transaction
	err := c.cb.Call(func() error {
		var callErr error
		out, callErr = c.fetch(ctx, transactionID)
		// A 404 is a definitive answer, not an upstream failure; it must not
		// trip the breaker.
		if errors.Is(callErr, ErrNotFound) {
			return nil
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (c *HTTPClient) fetch(ctx context.Context, transactionID string) (*Transaction, error) {
	endpoint := fmt.Sprintf("%s/minikit/transaction/%s?app_id=%s",
		c.baseURL, url.PathEscape(transactionID), url.QueryEscape(c.appID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: get transaction: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("oracle: unexpected status %d", resp.StatusCode)
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("oracle: decode response: %w", err)
	}
	return &tx, nil
}
