package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtistRepository handles artist database operations.
type ArtistRepository struct {
	pool *pgxpool.Pool
}

// UpsertBatch inserts or updates multiple artists. Last write wins on name
// and genres; artists are never deleted here. Uses a pipelined batch
// because the genres array cannot ride through a single unnest the way
// scalar columns can.
func (r *ArtistRepository) UpsertBatch(ctx context.Context, artists []Artist) error {
	if len(artists) == 0 {
		return nil
	}

	query := `
		INSERT INTO artists (spotify_id, name, genres)
		VALUES ($1, $2, $3)
		ON CONFLICT (spotify_id) DO UPDATE SET
			name = EXCLUDED.name,
			genres = EXCLUDED.genres
	`

	batch := &pgx.Batch{}
	for _, a := range artists {
		genres := a.Genres
		if genres == nil {
			genres = []string{}
		}
		batch.Queue(query, a.SpotifyID, a.Name, genres)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range artists {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch upserting artists: %w", err)
		}
	}
	return results.Close()
}
