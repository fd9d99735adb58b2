package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRepository handles listening-history database operations. Rows are
// append-only from the reconciler's perspective.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// ExistingPlayedAt returns which of the given play timestamps are already
// stored for the user, keyed by UnixMilli. The lookup is bounded to exactly
// the timestamps in the fetched batch.
func (r *HistoryRepository) ExistingPlayedAt(ctx context.Context, userID string, times []time.Time) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(times))
	if len(times) == 0 {
		return existing, nil
	}

	query := `
		SELECT played_at
		FROM listening_history
		WHERE user_id = $1 AND played_at = ANY($2::timestamptz[])
	`
	rows, err := r.pool.Query(ctx, query, userID, times)
	if err != nil {
		return nil, fmt.Errorf("querying existing history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var playedAt time.Time
		if err := rows.Scan(&playedAt); err != nil {
			return nil, fmt.Errorf("scanning played_at: %w", err)
		}
		existing[playedAt.UnixMilli()] = true
	}
	return existing, rows.Err()
}

// InsertBatch appends history entries, silently absorbing conflicts on the
// (user_id, played_at) key. The returned count covers only rows that did
// not already exist.
func (r *HistoryRepository) InsertBatch(ctx context.Context, entries []HistoryEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO listening_history (user_id, played_at, track_id)
		SELECT * FROM unnest($1::text[], $2::timestamptz[], $3::text[])
		ON CONFLICT (user_id, played_at) DO NOTHING
	`

	userIDs := make([]string, len(entries))
	playedAts := make([]time.Time, len(entries))
	trackIDs := make([]string, len(entries))

	for i, e := range entries {
		userIDs[i] = e.UserID
		playedAts[i] = e.PlayedAt
		trackIDs[i] = e.TrackID
	}

	tag, err := r.pool.Exec(ctx, query, userIDs, playedAts, trackIDs)
	if err != nil {
		return 0, fmt.Errorf("batch inserting history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
