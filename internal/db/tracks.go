package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles track database operations.
type TrackRepository struct {
	pool *pgxpool.Pool
}

// UpsertBatch inserts or updates multiple tracks efficiently. The five
// audio-feature columns are deliberately not in the column list, so a
// re-observed track can never have an already-enriched vector clobbered by
// an absent one. Features are written only through UpdateAudioFeatures.
func (r *TrackRepository) UpsertBatch(ctx context.Context, tracks []Track) error {
	if len(tracks) == 0 {
		return nil
	}

	query := `
		INSERT INTO tracks (spotify_id, name, artist_id, album_name, duration_ms, popularity)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::int[], $6::int[])
		ON CONFLICT (spotify_id) DO UPDATE SET
			name = EXCLUDED.name,
			artist_id = EXCLUDED.artist_id,
			album_name = EXCLUDED.album_name,
			duration_ms = EXCLUDED.duration_ms,
			popularity = EXCLUDED.popularity
	`

	ids := make([]string, len(tracks))
	names := make([]string, len(tracks))
	artistIDs := make([]string, len(tracks))
	albums := make([]string, len(tracks))
	durations := make([]int, len(tracks))
	popularities := make([]int, len(tracks))

	for i, t := range tracks {
		ids[i] = t.SpotifyID
		names[i] = t.Name
		artistIDs[i] = t.ArtistID
		albums[i] = t.AlbumName
		durations[i] = t.DurationMs
		popularities[i] = t.Popularity
	}

	_, err := r.pool.Exec(ctx, query, ids, names, artistIDs, albums, durations, popularities)
	if err != nil {
		return fmt.Errorf("batch upserting tracks: %w", err)
	}
	return nil
}

// UpdateAudioFeatures sets the audio-feature columns for exactly the tracks
// in the update set. Tracks absent from the set are untouched, so an
// unresolved enrichment never degrades to a zero vector.
func (r *TrackRepository) UpdateAudioFeatures(ctx context.Context, updates []TrackFeatureUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	query := `
		UPDATE tracks t SET
			valence = u.valence,
			energy = u.energy,
			danceability = u.danceability,
			acousticness = u.acousticness,
			instrumentalness = u.instrumentalness
		FROM unnest($1::text[], $2::real[], $3::real[], $4::real[], $5::real[], $6::real[])
			AS u(spotify_id, valence, energy, danceability, acousticness, instrumentalness)
		WHERE t.spotify_id = u.spotify_id
	`

	ids := make([]string, len(updates))
	valence := make([]float32, len(updates))
	energy := make([]float32, len(updates))
	danceability := make([]float32, len(updates))
	acousticness := make([]float32, len(updates))
	instrumentalness := make([]float32, len(updates))

	for i, u := range updates {
		ids[i] = u.SpotifyID
		valence[i] = u.Valence
		energy[i] = u.Energy
		danceability[i] = u.Danceability
		acousticness[i] = u.Acousticness
		instrumentalness[i] = u.Instrumentalness
	}

	_, err := r.pool.Exec(ctx, query, ids, valence, energy, danceability, acousticness, instrumentalness)
	if err != nil {
		return fmt.Errorf("updating audio features: %w", err)
	}
	return nil
}

// ListMissingFeatures returns up to limit track IDs with no audio-feature
// vector, in ascending ID order starting after afterID. The backfill
// sweeper pages with this until it gets an empty result.
func (r *TrackRepository) ListMissingFeatures(ctx context.Context, afterID string, limit int) ([]string, error) {
	query := `
		SELECT spotify_id
		FROM tracks
		WHERE valence IS NULL AND spotify_id > $1
		ORDER BY spotify_id
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tracks missing features: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning track id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
