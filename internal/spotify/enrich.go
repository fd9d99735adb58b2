package spotify

import (
	"context"

	api "github.com/zmb3/spotify/v2"
)

// ArtistDetail is the enrichment metadata for one artist.
type ArtistDetail struct {
	Name   string
	Genres []string
}

// TrackFeatures is the audio-feature vector for one track.
type TrackFeatures struct {
	Valence          float32
	Energy           float32
	Danceability     float32
	Acousticness     float32
	Instrumentalness float32
}

// ArtistDetails fetches names and genres for the given artist IDs, batching
// requests to max 50 IDs per the provider limit. IDs are deduplicated first.
// A failed chunk is logged and its IDs are simply absent from the result;
// artists the provider cannot resolve are likewise absent. Callers must
// treat a missing entry as "enrichment unavailable".
func (c *Client) ArtistDetails(ctx context.Context, ids []string) map[string]ArtistDetail {
	details := make(map[string]ArtistDetail)

	for _, chunk := range chunkIDs(dedupeIDs(ids), maxArtistsPerRequest) {
		artists, err := c.api.GetArtists(ctx, toAPIIDs(chunk)...)
		if err != nil {
			c.log.Warn("artist lookup chunk failed", "size", len(chunk), "err", wrapAPIError("artists", err))
			continue
		}
		for _, a := range artists {
			if a == nil {
				continue
			}
			details[a.ID.String()] = ArtistDetail{Name: a.Name, Genres: a.Genres}
		}
	}

	return details
}

// AudioFeatures fetches feature vectors for the given track IDs, batching
// requests to max 100 IDs per the provider limit. IDs are deduplicated
// first. Tracks the provider returns null for are absent from the result.
// A rate-limit response stops the call and returns the features gathered so
// far alongside the error, so the caller can back off and retry the
// remainder; any other chunk failure is logged and skipped.
func (c *Client) AudioFeatures(ctx context.Context, ids []string) (map[string]TrackFeatures, error) {
	features := make(map[string]TrackFeatures)

	for _, chunk := range chunkIDs(dedupeIDs(ids), maxTracksPerRequest) {
		result, err := c.api.GetAudioFeatures(ctx, toAPIIDs(chunk)...)
		if err != nil {
			wrapped := wrapAPIError("audio-features", err)
			if IsRateLimited(wrapped) {
				return features, wrapped
			}
			c.log.Warn("audio-feature chunk failed", "size", len(chunk), "err", wrapped)
			continue
		}
		for _, f := range result {
			if f == nil {
				continue
			}
			features[f.ID.String()] = TrackFeatures{
				Valence:          f.Valence,
				Energy:           f.Energy,
				Danceability:     f.Danceability,
				Acousticness:     f.Acousticness,
				Instrumentalness: f.Instrumentalness,
			}
		}
	}

	return features, nil
}

// dedupeIDs removes duplicates and empty IDs, preserving first-occurrence
// order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// chunkIDs partitions ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func toAPIIDs(ids []string) []api.ID {
	out := make([]api.ID, len(ids))
	for i, id := range ids {
		out[i] = api.ID(id)
	}
	return out
}
