package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken signals a missing, malformed, expired or tampered token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingWallet signals a login without a wallet address.
	ErrMissingWallet = errors.New("auth: wallet address is required")
)

// Service handles token issuance and verification.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
}

// LoginResult bundles the token and domain user returned after a successful
// login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
}

// Login resolves the wallet to a user (creating one on first sight) and
// issues a bearer token. Wallet signature verification happens upstream.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if req.WalletAddress == "" {
		return LoginResult{}, ErrMissingWallet
	}

	user, err := s.repo.UpsertByWallet(ctx, req.WalletAddress, req.Username)
	if err != nil {
		return LoginResult{}, err
	}

	token, err := s.generateToken(user.ID, user.WalletAddress)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, User: user}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT and returns the user id and wallet address.
func (s *Service) VerifyToken(tokenString string) (userID, wallet string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	userID, ok = claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	wallet, _ = claims["wallet"].(string)
	return userID, wallet, nil
}

// generateToken creates a JWT for the user.
func (s *Service) generateToken(userID, wallet string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"wallet":  wallet,
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}
