package auth

import "time"

// User is the domain representation of a wallet-authenticated player.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID            string
	WalletAddress string
	Username      *string
	Wins          int
	Losses        int
	AvgReactionMs float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LoginRequest carries the verified wallet identity supplied by callers.
// Signature verification against the wallet happens upstream; by the time
// this request reaches the service the address is trusted.
type LoginRequest struct {
	WalletAddress string `json:"wallet_address"`
	Username      string `json:"username,omitempty"`
}
