package db

import "time"

// User is a registered listener whose history is reconciled each run.
// Rows are created by the registration flow, not by this binary.
type User struct {
	SpotifyID    string
	DisplayName  string
	RefreshToken string
	LastSync     *time.Time // nullable, never synced when nil
}

// Artist is a Spotify artist with its enrichment metadata.
type Artist struct {
	SpotifyID string
	Name      string
	Genres    []string // possibly empty
}

// Track is a Spotify track. The five audio-feature fields stay nil until
// enrichment resolves them; a nil here is what the backfill sweeper scans
// for.
type Track struct {
	SpotifyID  string
	Name       string
	ArtistID   string // first-listed artist
	AlbumName  string
	DurationMs int
	Popularity int

	Valence          *float32
	Energy           *float32
	Danceability     *float32
	Acousticness     *float32
	Instrumentalness *float32
}

// TrackFeatureUpdate carries a resolved audio-feature vector for one track.
type TrackFeatureUpdate struct {
	SpotifyID        string
	Valence          float32
	Energy           float32
	Danceability     float32
	Acousticness     float32
	Instrumentalness float32
}

// HistoryEntry is one play. (UserID, PlayedAt) is the natural key; the
// same pair is never stored twice.
type HistoryEntry struct {
	UserID   string
	PlayedAt time.Time
	TrackID  string
}
