package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// List returns all registered users. The run driver treats a failure here
// as fatal; an empty result is not an error.
func (r *UserRepository) List(ctx context.Context) ([]User, error) {
	query := `
		SELECT spotify_id, display_name, refresh_token, last_sync
		FROM users
		ORDER BY spotify_id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.SpotifyID, &u.DisplayName, &u.RefreshToken, &u.LastSync); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Get retrieves a user by Spotify ID.
func (r *UserRepository) Get(ctx context.Context, spotifyID string) (*User, error) {
	query := `
		SELECT spotify_id, display_name, refresh_token, last_sync
		FROM users
		WHERE spotify_id = $1
	`
	var u User
	err := r.pool.QueryRow(ctx, query, spotifyID).Scan(
		&u.SpotifyID,
		&u.DisplayName,
		&u.RefreshToken,
		&u.LastSync,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// UpdateRefreshToken persists a rotated refresh token. Called before any
// further provider request for the user, since the previous token may
// already be invalid.
func (r *UserRepository) UpdateRefreshToken(ctx context.Context, spotifyID, refreshToken string) error {
	query := `
		UPDATE users
		SET refresh_token = $2
		WHERE spotify_id = $1
	`
	result, err := r.pool.Exec(ctx, query, spotifyID, refreshToken)
	if err != nil {
		return fmt.Errorf("updating refresh token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastSync updates the last sync timestamp for a user.
func (r *UserRepository) UpdateLastSync(ctx context.Context, spotifyID string, syncTime time.Time) error {
	query := `
		UPDATE users
		SET last_sync = $2
		WHERE spotify_id = $1
	`
	result, err := r.pool.Exec(ctx, query, spotifyID, syncTime)
	if err != nil {
		return fmt.Errorf("updating last sync: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
