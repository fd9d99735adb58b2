package syncer

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/acrenn/playlog/internal/auth"
	"github.com/acrenn/playlog/internal/db"
	"github.com/acrenn/playlog/internal/spotify"
)

// fakeWorld implements every collaborator interface and records the order
// of operations, with an in-memory history set giving real conflict
// semantics.
type fakeWorld struct {
	ops []string

	users      []db.User
	listErr    error
	refreshErr map[string]error // by refresh token
	rotateTo   string

	events   []spotify.PlayEvent
	fetchErr error

	details     map[string]spotify.ArtistDetail
	features    map[string]spotify.TrackFeatures
	featuresErr error

	history        map[string]map[int64]bool // user -> played_at keys
	artistsWritten []db.Artist
	tracksWritten  []db.Track
	featureUpdates []db.TrackFeatureUpdate
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		refreshErr: map[string]error{},
		details:    map[string]spotify.ArtistDetail{},
		features:   map[string]spotify.TrackFeatures{},
		history:    map[string]map[int64]bool{},
	}
}

// CredentialRefresher

func (f *fakeWorld) Refresh(_ context.Context, refreshToken string) (*auth.Credentials, error) {
	f.ops = append(f.ops, "refresh")
	if err := f.refreshErr[refreshToken]; err != nil {
		return nil, err
	}
	creds := &auth.Credentials{AccessToken: "access", RefreshToken: refreshToken}
	if f.rotateTo != "" {
		creds.RefreshToken = f.rotateTo
		creds.Rotated = true
	}
	return creds, nil
}

// Provider

func (f *fakeWorld) RecentlyPlayed(_ context.Context, limit int) ([]spotify.PlayEvent, error) {
	f.ops = append(f.ops, "recently_played")
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeWorld) ArtistDetails(_ context.Context, ids []string) map[string]spotify.ArtistDetail {
	f.ops = append(f.ops, "enrich_artists")
	out := map[string]spotify.ArtistDetail{}
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			out[id] = d
		}
	}
	return out
}

func (f *fakeWorld) AudioFeatures(_ context.Context, ids []string) (map[string]spotify.TrackFeatures, error) {
	f.ops = append(f.ops, "enrich_features")
	out := map[string]spotify.TrackFeatures{}
	for _, id := range ids {
		if ft, ok := f.features[id]; ok {
			out[id] = ft
		}
	}
	return out, f.featuresErr
}

// UserStore

func (f *fakeWorld) List(context.Context) ([]db.User, error) {
	return f.users, f.listErr
}

func (f *fakeWorld) Get(_ context.Context, spotifyID string) (*db.User, error) {
	for _, u := range f.users {
		if u.SpotifyID == spotifyID {
			return &u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeWorld) UpdateRefreshToken(_ context.Context, spotifyID, refreshToken string) error {
	f.ops = append(f.ops, "update_refresh_token")
	for i := range f.users {
		if f.users[i].SpotifyID == spotifyID {
			f.users[i].RefreshToken = refreshToken
		}
	}
	return nil
}

func (f *fakeWorld) UpdateLastSync(_ context.Context, spotifyID string, _ time.Time) error {
	f.ops = append(f.ops, "update_last_sync")
	return nil
}

// ArtistStore / TrackStore

type fakeArtists struct{ w *fakeWorld }

func (f fakeArtists) UpsertBatch(_ context.Context, artists []db.Artist) error {
	f.w.ops = append(f.w.ops, "write_artists")
	f.w.artistsWritten = append(f.w.artistsWritten, artists...)
	return nil
}

type fakeTracks struct{ w *fakeWorld }

func (f fakeTracks) UpsertBatch(_ context.Context, tracks []db.Track) error {
	f.w.ops = append(f.w.ops, "write_tracks")
	f.w.tracksWritten = append(f.w.tracksWritten, tracks...)
	return nil
}

func (f fakeTracks) UpdateAudioFeatures(_ context.Context, updates []db.TrackFeatureUpdate) error {
	f.w.ops = append(f.w.ops, "write_features")
	f.w.featureUpdates = append(f.w.featureUpdates, updates...)
	return nil
}

// HistoryStore

type fakeHistory struct{ w *fakeWorld }

func (f fakeHistory) ExistingPlayedAt(_ context.Context, userID string, times []time.Time) (map[int64]bool, error) {
	f.w.ops = append(f.w.ops, "lookup_history")
	existing := map[int64]bool{}
	for _, t := range times {
		if f.w.history[userID][t.UnixMilli()] {
			existing[t.UnixMilli()] = true
		}
	}
	return existing, nil
}

func (f fakeHistory) InsertBatch(_ context.Context, entries []db.HistoryEntry) (int, error) {
	f.w.ops = append(f.w.ops, "write_history")
	inserted := 0
	for _, e := range entries {
		if f.w.history[e.UserID] == nil {
			f.w.history[e.UserID] = map[int64]bool{}
		}
		key := e.PlayedAt.UnixMilli()
		if f.w.history[e.UserID][key] {
			continue // conflict absorbed, not counted
		}
		f.w.history[e.UserID][key] = true
		inserted++
	}
	return inserted, nil
}

func newTestService(w *fakeWorld) *Service {
	return New(Deps{
		Auth:        w,
		NewProvider: func(context.Context, string) Provider { return w },
		Users:       w,
		Artists:     fakeArtists{w},
		Tracks:      fakeTracks{w},
		History:     fakeHistory{w},
	}, WithLogger(log.New(io.Discard)))
}

func userU() db.User {
	return db.User{SpotifyID: "user-u", DisplayName: "U", RefreshToken: "refresh-u"}
}

func threeEvents() []spotify.PlayEvent {
	return []spotify.PlayEvent{
		event("2026-03-01T10:00:00Z", "t1"),
		event("2026-03-01T11:00:00Z", "t2"),
		event("2026-03-01T12:00:00Z", "t3"),
	}
}

func TestProcessUserInsertsOnlyNovelPlays(t *testing.T) {
	w := newFakeWorld()
	w.users = []db.User{userU()}
	w.events = threeEvents()
	// T1 is already persisted.
	t1, _ := NormalizePlayedAt("2026-03-01T10:00:00Z")
	w.history["user-u"] = map[int64]bool{t1.UnixMilli(): true}

	inserted, err := newTestService(w).ProcessUser(context.Background(), userU())
	if err != nil {
		t.Fatalf("ProcessUser() error = %v", err)
	}

	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
	if len(w.tracksWritten) != 2 {
		t.Errorf("tracks written = %d, want only the 2 new ones", len(w.tracksWritten))
	}
}

func TestProcessUserWriteOrdering(t *testing.T) {
	w := newFakeWorld()
	w.events = threeEvents()

	if _, err := newTestService(w).ProcessUser(context.Background(), userU()); err != nil {
		t.Fatalf("ProcessUser() error = %v", err)
	}

	want := []string{"write_artists", "write_tracks", "write_features", "write_history"}
	var writes []string
	for _, op := range w.ops {
		if slices.Contains(want, op) {
			writes = append(writes, op)
		}
	}
	if !slices.Equal(writes, want) {
		t.Errorf("write order = %v, want %v", writes, want)
	}
}

func TestProcessUserIdempotentSecondRun(t *testing.T) {
	w := newFakeWorld()
	w.events = threeEvents()
	svc := newTestService(w)

	first, err := svc.ProcessUser(context.Background(), userU())
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	second, err := svc.ProcessUser(context.Background(), userU())
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}

	if first != 3 {
		t.Errorf("first run inserted = %d, want 3", first)
	}
	if second != 0 {
		t.Errorf("second run inserted = %d, want 0", second)
	}
	if got := len(w.history["user-u"]); got != 3 {
		t.Errorf("persisted history size = %d, want 3 after both runs", got)
	}
}

func TestProcessUserZeroNewSkipsEnrichment(t *testing.T) {
	w := newFakeWorld()
	w.events = threeEvents()
	for _, e := range w.events {
		at, _ := NormalizePlayedAt(e.PlayedAt)
		if w.history["user-u"] == nil {
			w.history["user-u"] = map[int64]bool{}
		}
		w.history["user-u"][at.UnixMilli()] = true
	}

	inserted, err := newTestService(w).ProcessUser(context.Background(), userU())
	if err != nil {
		t.Fatalf("ProcessUser() error = %v", err)
	}

	if inserted != 0 {
		t.Errorf("inserted = %d, want 0", inserted)
	}
	if slices.Contains(w.ops, "enrich_artists") || slices.Contains(w.ops, "enrich_features") {
		t.Errorf("ops = %v, enrichment must be skipped with nothing new", w.ops)
	}
	if !slices.Contains(w.ops, "update_last_sync") {
		t.Errorf("ops = %v, last sync still updates on an empty run", w.ops)
	}
}

func TestProcessUserPersistsRotationBeforeFetch(t *testing.T) {
	w := newFakeWorld()
	w.users = []db.User{userU()}
	w.events = threeEvents()
	w.rotateTo = "rotated-refresh"

	if _, err := newTestService(w).ProcessUser(context.Background(), userU()); err != nil {
		t.Fatalf("ProcessUser() error = %v", err)
	}

	rotateIdx := slices.Index(w.ops, "update_refresh_token")
	fetchIdx := slices.Index(w.ops, "recently_played")
	if rotateIdx == -1 || fetchIdx == -1 || rotateIdx > fetchIdx {
		t.Errorf("ops = %v, rotated token must be persisted before any provider call", w.ops)
	}
	if w.users[0].RefreshToken != "rotated-refresh" {
		t.Errorf("stored refresh token = %q, want rotated-refresh", w.users[0].RefreshToken)
	}
}

func TestProcessUserPartialFeatureEnrichment(t *testing.T) {
	w := newFakeWorld()
	w.events = threeEvents()
	w.features["t1"] = spotify.TrackFeatures{Valence: 0.9}
	w.featuresErr = &spotify.ProviderError{Status: 429, Endpoint: "audio-features"}

	inserted, err := newTestService(w).ProcessUser(context.Background(), userU())
	if err != nil {
		t.Fatalf("ProcessUser() error = %v, rate-limited enrichment is not fatal", err)
	}

	if inserted != 3 {
		t.Errorf("inserted = %d, want 3", inserted)
	}
	if len(w.featureUpdates) != 1 || w.featureUpdates[0].SpotifyID != "t1" {
		t.Errorf("feature updates = %+v, want only the resolved track", w.featureUpdates)
	}
}

func TestRunIsolatesAuthFailure(t *testing.T) {
	w := newFakeWorld()
	w.users = []db.User{
		{SpotifyID: "bad", DisplayName: "Bad", RefreshToken: "revoked"},
		{SpotifyID: "good", DisplayName: "Good", RefreshToken: "valid"},
	}
	w.refreshErr["revoked"] = auth.ErrAuthFailure
	w.events = threeEvents()

	stats, err := newTestService(w).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, per-user auth failure must not abort the run", err)
	}

	if stats.Processed() != 1 {
		t.Errorf("processed = %d, want 1 (failed user records nothing)", stats.Processed())
	}
	if stats.TotalInserted() != 3 {
		t.Errorf("total inserted = %d, want 3 from the healthy user", stats.TotalInserted())
	}
}

func TestRunFatalWhenUserListFails(t *testing.T) {
	w := newFakeWorld()
	w.listErr = errors.New("connection refused")

	if _, err := newTestService(w).Run(context.Background()); err == nil {
		t.Error("Run() expected fatal error when users cannot be enumerated")
	}
}

func TestRunNoUsersIsNotAnError(t *testing.T) {
	w := newFakeWorld()

	stats, err := newTestService(w).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, empty user list is a valid run", err)
	}
	if stats.Processed() != 0 {
		t.Errorf("processed = %d, want 0", stats.Processed())
	}
}

func TestRunHonorsDeadline(t *testing.T) {
	w := newFakeWorld()
	w.users = []db.User{userU()}
	w.events = threeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestService(w).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled instead of partial stats", err)
	}
}

func TestRunOneSyncsSingleUser(t *testing.T) {
	w := newFakeWorld()
	w.users = []db.User{userU(), {SpotifyID: "user-v", DisplayName: "V", RefreshToken: "refresh-v"}}
	w.events = threeEvents()

	stats, err := newTestService(w).RunOne(context.Background(), "user-u")
	if err != nil {
		t.Fatalf("RunOne() error = %v", err)
	}

	if stats.Processed() != 1 {
		t.Errorf("processed = %d, want exactly the targeted user", stats.Processed())
	}
	if stats.TotalInserted() != 3 {
		t.Errorf("total inserted = %d, want 3", stats.TotalInserted())
	}
	if len(w.history["user-v"]) != 0 {
		t.Errorf("user-v history = %d rows, want untouched", len(w.history["user-v"]))
	}
	if stats.RunID() == "" {
		t.Error("RunID() empty, notification path needs a tagged run")
	}
}

func TestRunOneUnknownUser(t *testing.T) {
	w := newFakeWorld()
	w.users = []db.User{userU()}

	if _, err := newTestService(w).RunOne(context.Background(), "nobody"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("RunOne() error = %v, want db.ErrNotFound", err)
	}
}
