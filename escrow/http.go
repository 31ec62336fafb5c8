package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPClient talks JSON to the settlement backend that fronts the escrow
// contract.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient builds a settlement backend client.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type mutateRequest struct {
	MatchID      string `json:"match_id"`
	Player1      string `json:"player1_wallet,omitempty"`
	Player2      string `json:"player2_wallet,omitempty"`
	WinnerWallet string `json:"winner_wallet,omitempty"`
	Stake        string `json:"stake_amount,omitempty"`
}

type mutateResponse struct {
	OK     bool   `json:"ok"`
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

type matchResponse struct {
	Player1       string `json:"player1"`
	Player2       string `json:"player2"`
	StakeAmount   string `json:"stake_amount"`
	Player1Staked bool   `json:"player1_staked"`
	Player2Staked bool   `json:"player2_staked"`
	Completed     bool   `json:"completed"`
	Cancelled     bool   `json:"cancelled"`
}

func (c *HTTPClient) CreateMatch(ctx context.Context, matchID, p1Wallet, p2Wallet string, stake decimal.Decimal) (Result, error) {
	return c.mutate(ctx, "/escrow/create", mutateRequest{
		MatchID: matchID,
		Player1: p1Wallet,
		Player2: p2Wallet,
		Stake:   stake.String(),
	})
}

func (c *HTTPClient) CompleteMatch(ctx context.Context, matchID, winnerWallet string) (Result, error) {
	return c.mutate(ctx, "/escrow/complete", mutateRequest{MatchID: matchID, WinnerWallet: winnerWallet})
}

func (c *HTTPClient) SplitPot(ctx context.Context, matchID string) (Result, error) {
	return c.mutate(ctx, "/escrow/split", mutateRequest{MatchID: matchID})
}

func (c *HTTPClient) CancelMatch(ctx context.Context, matchID string) (Result, error) {
	return c.mutate(ctx, "/escrow/cancel", mutateRequest{MatchID: matchID})
}

func (c *HTTPClient) GetMatch(ctx context.Context, matchID string) (*MatchInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/escrow/match/"+matchID, nil)
	if err != nil {
		return nil, fmt.Errorf("escrow: build get request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("escrow: get match: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("escrow: get match: unexpected status %d", resp.StatusCode)
	}

	var body matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("escrow: decode match: %w", err)
	}
	stake, err := decimal.NewFromString(body.StakeAmount)
	if err != nil {
		return nil, fmt.Errorf("escrow: parse stake %q: %w", body.StakeAmount, err)
	}
	return &MatchInfo{
		Player1:       body.Player1,
		Player2:       body.Player2,
		StakeAmount:   stake,
		Player1Staked: body.Player1Staked,
		Player2Staked: body.Player2Staked,
		Completed:     body.Completed,
		Cancelled:     body.Cancelled,
	}, nil
}

func (c *HTTPClient) mutate(ctx context.Context, path string, payload mutateRequest) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("escrow: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("escrow: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("escrow: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("escrow: %s: backend status %d", path, resp.StatusCode)
	}

	var out mutateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("escrow: decode %s response: %w", path, err)
	}
	return Result{OK: out.OK, TxHash: out.TxHash, Err: out.Error}, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
