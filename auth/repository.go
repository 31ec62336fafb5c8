package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound signals that the user does not exist.
var ErrUserNotFound = errors.New("auth: user not found")

// Repository handles data access for players.
type Repository interface {
	UpsertByWallet(ctx context.Context, walletAddress, username string) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
	GetByWallet(ctx context.Context, walletAddress string) (User, error)
}

const userColumns = `
	id, wallet_address, username, wins, losses, avg_reaction_ms, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// UpsertByWallet returns the user for a wallet, creating the row on first
// login. A provided username overwrites the stored one; an empty username
// leaves it alone.
func (r *PGRepository) UpsertByWallet(ctx context.Context, walletAddress, username string) (User, error) {
	const upsertSQL = `
		INSERT INTO users (wallet_address, username)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (wallet_address) DO UPDATE
		SET username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
		    updated_at = now()
		RETURNING` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, upsertSQL, walletAddress, username))
	if err != nil {
		return User{}, fmt.Errorf("auth: upsert by wallet: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (r *PGRepository) GetByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `SELECT` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}
	return user, nil
}

// GetByWallet retrieves a user by wallet address.
func (r *PGRepository) GetByWallet(ctx context.Context, walletAddress string) (User, error) {
	const selectSQL = `SELECT` + userColumns + ` FROM users WHERE wallet_address = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, walletAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by wallet: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.WalletAddress,
		&user.Username,
		&user.Wins,
		&user.Losses,
		&user.AvgReactionMs,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
