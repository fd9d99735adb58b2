// Package backfill retroactively fills missing audio-feature vectors across
// the whole tracks table. It runs as its own job, independent of the sync
// run, and tolerates provider rate limits.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/acrenn/playlog/internal/db"
	"github.com/acrenn/playlog/internal/spotify"
)

// Defaults mirror the provider's limits and tolerances.
const (
	DefaultPageSize    = 1000
	DefaultChunkSize   = 100
	DefaultBackoff     = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultPoliteDelay = 500 * time.Millisecond
)

// Scanner pages through tracks with no feature vector.
type Scanner interface {
	ListMissingFeatures(ctx context.Context, afterID string, limit int) ([]string, error)
}

// FeatureWriter persists resolved feature vectors.
type FeatureWriter interface {
	UpdateAudioFeatures(ctx context.Context, updates []db.TrackFeatureUpdate) error
}

// Enricher fetches audio features for a set of track IDs.
type Enricher interface {
	AudioFeatures(ctx context.Context, ids []string) (map[string]spotify.TrackFeatures, error)
}

// EnricherFactory builds an Enricher bound to an access token.
type EnricherFactory func(ctx context.Context, accessToken string) Enricher

// TokenSource mints app-scoped access tokens. The sweeper re-mints
// defensively after a chunk fails for good, since some provider failures
// correlate with credential staleness.
type TokenSource interface {
	ClientCredentials(ctx context.Context) (string, error)
}

// Result summarizes one sweep.
type Result struct {
	Scanned       int // tracks found missing a feature vector
	Updated       int // tracks whose vector was filled
	SkippedChunks int // chunks abandoned after exhausting retries
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithPageSize sets the scan page size.
func WithPageSize(n int) Option {
	return func(s *Sweeper) { s.pageSize = n }
}

// WithChunkSize sets the enrichment chunk size.
func WithChunkSize(n int) Option {
	return func(s *Sweeper) { s.chunkSize = n }
}

// WithBackoff sets the pause after a rate-limit response.
func WithBackoff(d time.Duration) Option {
	return func(s *Sweeper) { s.backoff = d }
}

// WithMaxAttempts sets how many times a rate-limited chunk is tried before
// being skipped.
func WithMaxAttempts(n int) Option {
	return func(s *Sweeper) { s.maxAttempts = n }
}

// WithPoliteDelay sets the pacing interval between enrichment chunks.
func WithPoliteDelay(d time.Duration) Option {
	return func(s *Sweeper) { s.politeDelay = d }
}

// WithLogger sets the sweeper logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Sweeper) { s.log = l }
}

// Sweeper scans for un-enriched tracks and fills their feature vectors.
type Sweeper struct {
	scanner     Scanner
	writer      FeatureWriter
	tokens      TokenSource
	newEnricher EnricherFactory

	pageSize    int
	chunkSize   int
	backoff     time.Duration
	maxAttempts int
	politeDelay time.Duration
	log         *log.Logger
}

// New creates a Sweeper.
func New(scanner Scanner, writer FeatureWriter, tokens TokenSource, factory EnricherFactory, opts ...Option) *Sweeper {
	s := &Sweeper{
		scanner:     scanner,
		writer:      writer,
		tokens:      tokens,
		newEnricher: factory,
		pageSize:    DefaultPageSize,
		chunkSize:   DefaultChunkSize,
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxAttempts,
		politeDelay: DefaultPoliteDelay,
		log:         log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one sweep: scan everything missing a vector, then enrich and
// write in provider-sized chunks. Chunks that stay rate-limited past the
// retry budget are skipped and picked up by a future sweep. No store
// transaction is held across backoff pauses; every write is independently
// idempotent.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	ids, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(ids)
	if len(ids) == 0 {
		s.log.Info("no tracks missing features")
		return result, nil
	}
	s.log.Info("found tracks missing features", "count", len(ids))

	token, err := s.tokens.ClientCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}
	enricher := s.newEnricher(ctx, token)

	limiter := rate.NewLimiter(rate.Every(s.politeDelay), 1)
	for _, ids := range chunk(ids, s.chunkSize) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		enricher = s.processChunk(ctx, enricher, ids, result)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	s.log.Info("sweep complete", "scanned", result.Scanned, "updated", result.Updated, "skipped_chunks", result.SkippedChunks)
	return result, nil
}

// scan accumulates every track ID missing a feature vector, paging until an
// empty page comes back.
func (s *Sweeper) scan(ctx context.Context) ([]string, error) {
	var all []string
	afterID := ""
	for {
		page, err := s.scanner.ListMissingFeatures(ctx, afterID, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("scanning tracks: %w", err)
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		afterID = page[len(page)-1]
	}
}

// processChunk enriches one chunk with rate-limit retries, writes what
// resolved, and returns the enricher to use next (possibly rebuilt with a
// fresh token after a skip).
func (s *Sweeper) processChunk(ctx context.Context, enricher Enricher, ids []string, result *Result) Enricher {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		features, err := enricher.AudioFeatures(ctx, ids)
		if err == nil {
			s.write(ctx, ids, features, result)
			return enricher
		}
		if ctx.Err() != nil {
			return enricher
		}
		if spotify.IsRateLimited(err) && attempt < s.maxAttempts {
			s.log.Warn("rate limited, backing off", "attempt", attempt, "backoff", s.backoff)
			select {
			case <-ctx.Done():
				return enricher
			case <-time.After(s.backoff):
			}
			continue
		}

		// Persistent failure: leave the chunk un-enriched for the next
		// sweep and re-mint the token before moving on.
		s.log.Warn("chunk skipped", "size", len(ids), "err", err)
		result.SkippedChunks++
		if token, terr := s.tokens.ClientCredentials(ctx); terr == nil {
			return s.newEnricher(ctx, token)
		}
		return enricher
	}
	return enricher
}

// write persists the resolved vectors. Tracks absent from the response stay
// untouched; they are simply found again by the next sweep.
func (s *Sweeper) write(ctx context.Context, ids []string, features map[string]spotify.TrackFeatures, result *Result) {
	var updates []db.TrackFeatureUpdate
	for _, id := range ids {
		f, ok := features[id]
		if !ok {
			continue
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
	if len(updates) == 0 {
		return
	}
	if err := s.writer.UpdateAudioFeatures(ctx, updates); err != nil {
		s.log.Error("writing feature updates", "count", len(updates), "err", err)
		return
	}
	result.Updated += len(updates)
}

// chunk partitions ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
