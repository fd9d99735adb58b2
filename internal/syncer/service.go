package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/acrenn/playlog/internal/auth"
	"github.com/acrenn/playlog/internal/db"
	"github.com/acrenn/playlog/internal/report"
	"github.com/acrenn/playlog/internal/spotify"
)

// DefaultFetchLimit is the recently-played window requested per user.
const DefaultFetchLimit = 50

// CredentialRefresher mints access credentials from stored refresh tokens.
type CredentialRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.Credentials, error)
}

// Provider is the slice of the streaming API one user's sync needs.
type Provider interface {
	RecentlyPlayed(ctx context.Context, limit int) ([]spotify.PlayEvent, error)
	ArtistDetails(ctx context.Context, ids []string) map[string]spotify.ArtistDetail
	AudioFeatures(ctx context.Context, ids []string) (map[string]spotify.TrackFeatures, error)
}

// ProviderFactory builds a Provider bound to one user's access credential.
type ProviderFactory func(ctx context.Context, accessToken string) Provider

// UserStore is the user bookkeeping the pipeline performs.
type UserStore interface {
	List(ctx context.Context) ([]db.User, error)
	Get(ctx context.Context, spotifyID string) (*db.User, error)
	UpdateRefreshToken(ctx context.Context, spotifyID, refreshToken string) error
	UpdateLastSync(ctx context.Context, spotifyID string, syncTime time.Time) error
}

// ArtistStore persists artist records.
type ArtistStore interface {
	UpsertBatch(ctx context.Context, artists []db.Artist) error
}

// TrackStore persists track records and their feature vectors.
type TrackStore interface {
	UpsertBatch(ctx context.Context, tracks []db.Track) error
	UpdateAudioFeatures(ctx context.Context, updates []db.TrackFeatureUpdate) error
}

// HistoryStore persists play history.
type HistoryStore interface {
	ExistingPlayedAt(ctx context.Context, userID string, times []time.Time) (map[int64]bool, error)
	InsertBatch(ctx context.Context, entries []db.HistoryEntry) (int, error)
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Auth        CredentialRefresher
	NewProvider ProviderFactory
	Users       UserStore
	Artists     ArtistStore
	Tracks      TrackStore
	History     HistoryStore
}

// Option configures a Service.
type Option func(*Service)

// WithFetchLimit sets the recently-played window size.
func WithFetchLimit(limit int) Option {
	return func(s *Service) {
		s.fetchLimit = limit
	}
}

// WithUserDelay sets the pacing interval between users, to stay under the
// provider's global rate budget.
func WithUserDelay(d time.Duration) Option {
	return func(s *Service) {
		s.userDelay = d
	}
}

// WithLogger sets the service logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// Service runs the reconciliation pipeline across all registered users.
type Service struct {
	deps       Deps
	fetchLimit int
	userDelay  time.Duration
	log        *log.Logger
}

// New creates a sync service.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		deps:       deps,
		fetchLimit: DefaultFetchLimit,
		log:        log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reconciles every registered user sequentially, isolating per-user
// failures, and returns the accumulated run stats. It fails only when the
// user list cannot be enumerated or the context expires; an expired run
// never presents partial stats as a result.
func (s *Service) Run(ctx context.Context) (*report.RunStats, error) {
	runID := uuid.New().String()
	logger := s.log.With("run", runID)
	stats := report.NewRunStats(runID)

	users, err := s.deps.Users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	logger.Info("starting sync run", "users", len(users))

	limiter := rate.NewLimiter(rate.Every(s.userDelay), 1)
	for _, user := range users {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		inserted, err := s.ProcessUser(ctx, user)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error("user sync failed", "user", user.SpotifyID, "err", err)
			continue
		}

		logger.Info("user synced", "user", user.SpotifyID, "new", inserted)
		stats.Record(user.DisplayName, inserted)
	}

	logger.Info("sync run complete", "processed", stats.Processed(), "new", stats.TotalInserted())
	return stats, nil
}

// RunOne reconciles a single registered user, looked up by Spotify ID. Used
// for targeted re-syncs; the returned stats carry their own run id so the
// notification path works the same as a full run.
func (s *Service) RunOne(ctx context.Context, spotifyID string) (*report.RunStats, error) {
	runID := uuid.New().String()
	logger := s.log.With("run", runID)
	stats := report.NewRunStats(runID)

	user, err := s.deps.Users.Get(ctx, spotifyID)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", spotifyID, err)
	}

	inserted, err := s.ProcessUser(ctx, *user)
	if err != nil {
		return nil, fmt.Errorf("syncing user %s: %w", spotifyID, err)
	}

	logger.Info("user synced", "user", user.SpotifyID, "new", inserted)
	stats.Record(user.DisplayName, inserted)
	return stats, nil
}

// ProcessUser runs the full pipeline for one user and returns the number of
// newly inserted history rows.
func (s *Service) ProcessUser(ctx context.Context, user db.User) (int, error) {
	creds, err := s.deps.Auth.Refresh(ctx, user.RefreshToken)
	if err != nil {
		return 0, fmt.Errorf("refreshing credentials: %w", err)
	}

	// A rotated refresh token must hit the store before any further
	// provider call; the provider may have already invalidated the old one.
	if creds.Rotated {
		if err := s.deps.Users.UpdateRefreshToken(ctx, user.SpotifyID, creds.RefreshToken); err != nil {
			return 0, fmt.Errorf("persisting rotated refresh token: %w", err)
		}
	}

	provider := s.deps.NewProvider(ctx, creds.AccessToken)

	events, err := provider.RecentlyPlayed(ctx, s.fetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetching recent plays: %w", err)
	}

	records, parseErr := ParseEvents(events)
	if parseErr != nil {
		s.log.Warn("some events skipped", "user", user.SpotifyID, "err", parseErr)
	}

	existing, err := s.deps.History.ExistingPlayedAt(ctx, user.SpotifyID, Times(records))
	if err != nil {
		return 0, fmt.Errorf("loading existing history: %w", err)
	}

	fresh := FilterNew(records, existing)
	fresh = s.dropArtistless(fresh, user.SpotifyID)
	if len(fresh) == 0 {
		if err := s.deps.Users.UpdateLastSync(ctx, user.SpotifyID, time.Now()); err != nil {
			s.log.Warn("updating last sync", "user", user.SpotifyID, "err", err)
		}
		return 0, nil
	}

	if err := s.writeRecords(ctx, provider, user, fresh); err != nil {
		return 0, err
	}

	entries := make([]db.HistoryEntry, len(fresh))
	for i, r := range fresh {
		entries[i] = db.HistoryEntry{
			UserID:   user.SpotifyID,
			PlayedAt: r.PlayedAt,
			TrackID:  r.Track.ID,
		}
	}
	inserted, err := s.deps.History.InsertBatch(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("inserting history: %w", err)
	}

	if err := s.deps.Users.UpdateLastSync(ctx, user.SpotifyID, time.Now()); err != nil {
		s.log.Warn("updating last sync", "user", user.SpotifyID, "err", err)
	}
	return inserted, nil
}

// dropArtistless removes play records whose track snapshot lists no
// artists. The track row needs an owning artist, and history references the
// track, so such a record cannot be written without a dangling reference.
func (s *Service) dropArtistless(records []PlayRecord, userID string) []PlayRecord {
	kept := records[:0]
	for _, r := range records {
		if len(r.Track.Artists) == 0 {
			s.log.Warn("track without artists skipped", "user", userID, "track", r.Track.ID)
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// writeRecords enriches and persists the artists and tracks behind the new
// play records. Ordering matters: artists before tracks before history, so
// a store enforcing referential integrity never sees a dangling reference.
// Enrichment is partitioned only over the new records; plays already in
// the store were written on the run that first observed them.
func (s *Service) writeRecords(ctx context.Context, provider Provider, user db.User, fresh []PlayRecord) error {
	artistRefs := make(map[string]string) // id -> snapshot name
	trackSeen := make(map[string]bool)
	var tracks []db.Track

	for _, r := range fresh {
		if trackSeen[r.Track.ID] {
			continue
		}
		first := r.Track.Artists[0]
		artistRefs[first.ID] = first.Name
		trackSeen[r.Track.ID] = true
		tracks = append(tracks, db.Track{
			SpotifyID:  r.Track.ID,
			Name:       r.Track.Name,
			ArtistID:   first.ID,
			AlbumName:  r.Track.Album.Name,
			DurationMs: r.Track.DurationMs,
			Popularity: r.Track.Popularity,
		})
	}

	artistIDs := make([]string, 0, len(artistRefs))
	trackIDs := make([]string, 0, len(tracks))
	for id := range artistRefs {
		artistIDs = append(artistIDs, id)
	}
	for _, t := range tracks {
		trackIDs = append(trackIDs, t.SpotifyID)
	}

	details := provider.ArtistDetails(ctx, artistIDs)
	features, err := provider.AudioFeatures(ctx, trackIDs)
	if err != nil {
		// Partial enrichment is fine; the backfill sweeper revisits the gap.
		s.log.Warn("audio-feature enrichment incomplete", "user", user.SpotifyID, "err", err)
	}

	artists := make([]db.Artist, 0, len(artistRefs))
	for id, snapshotName := range artistRefs {
		artist := db.Artist{SpotifyID: id, Name: snapshotName}
		if detail, ok := details[id]; ok {
			artist.Name = detail.Name
			artist.Genres = detail.Genres
		}
		artists = append(artists, artist)
	}

	var updates []db.TrackFeatureUpdate
	for _, id := range trackIDs {
		f, ok := features[id]
		if !ok {
			continue // enrichment unavailable, left absent for the sweeper
		}
		updates = append(updates, db.TrackFeatureUpdate{
			SpotifyID:        id,
			Valence:          f.Valence,
			Energy:           f.Energy,
			Danceability:     f.Danceability,
			Acousticness:     f.Acousticness,
			Instrumentalness: f.Instrumentalness,
		})
	}

	if err := s.deps.Artists.UpsertBatch(ctx, artists); err != nil {
		return fmt.Errorf("upserting artists: %w", err)
	}
	if err := s.deps.Tracks.UpsertBatch(ctx, tracks); err != nil {
		return fmt.Errorf("upserting tracks: %w", err)
	}
	if err := s.deps.Tracks.UpdateAudioFeatures(ctx, updates); err != nil {
		return fmt.Errorf("updating audio features: %w", err)
	}
	return nil
}
