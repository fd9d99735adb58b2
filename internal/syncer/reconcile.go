// Package syncer reconciles fetched play events against persisted history
// and drives the per-user sync pipeline.
package syncer

import (
	"fmt"
	"time"

	"github.com/acrenn/playlog/internal/spotify"
)

// PlayRecord is a play event with its timestamp normalized for comparison.
type PlayRecord struct {
	// PlayedAt is the canonical instant in UTC. Two provider spellings of
	// the same instant ("...Z", "...+00:00", any offset) normalize to the
	// same value.
	PlayedAt time.Time
	Track    spotify.TrackSnapshot
}

// Key is the identity of the record within one user's history.
func (r PlayRecord) Key() int64 {
	return r.PlayedAt.UnixMilli()
}

// NormalizePlayedAt parses a provider play timestamp into its canonical UTC
// form.
func NormalizePlayedAt(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing played_at %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// ParseEvents normalizes a fetched batch into PlayRecords. Events with a
// timestamp the provider should never send twice but did are collapsed to
// the first occurrence; unparseable timestamps are dropped. The returned
// error reports the dropped count, or nil when everything parsed.
func ParseEvents(events []spotify.PlayEvent) ([]PlayRecord, error) {
	seen := make(map[int64]bool, len(events))
	var records []PlayRecord
	dropped := 0

	for _, e := range events {
		playedAt, err := NormalizePlayedAt(e.PlayedAt)
		if err != nil {
			dropped++
			continue
		}
		key := playedAt.UnixMilli()
		if seen[key] {
			continue
		}
		seen[key] = true
		records = append(records, PlayRecord{PlayedAt: playedAt, Track: e.Track})
	}

	if dropped > 0 {
		return records, fmt.Errorf("dropped %d events with unparseable timestamps", dropped)
	}
	return records, nil
}

// Times returns the normalized timestamps of the records, for the bounded
// existing-history lookup.
func Times(records []PlayRecord) []time.Time {
	times := make([]time.Time, len(records))
	for i, r := range records {
		times[i] = r.PlayedAt
	}
	return times
}

// FilterNew returns the records whose (user, timestamp) key is not yet
// persisted. This pre-check keeps the reported new-play count accurate and
// avoids writes for data already known; the store's conflict handling
// remains the backstop.
func FilterNew(records []PlayRecord, existing map[int64]bool) []PlayRecord {
	var fresh []PlayRecord
	for _, r := range records {
		if existing[r.Key()] {
			continue
		}
		fresh = append(fresh, r)
	}
	return fresh
}
