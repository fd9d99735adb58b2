package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ArtistRef identifies an artist as listed on a play event's track.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrackSnapshot is the track metadata carried on a play event.
type TrackSnapshot struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []ArtistRef `json:"artists"`
	Album   struct {
		Name string `json:"name"`
	} `json:"album"`
	DurationMs int `json:"duration_ms"`
	Popularity int `json:"popularity"`
}

// PlayEvent is one entry from the recently-played feed. PlayedAt is kept as
// the provider's raw textual timestamp; normalization happens at
// reconciliation time so equivalent spellings of the same instant compare
// equal.
type PlayEvent struct {
	PlayedAt string        `json:"played_at"`
	Track    TrackSnapshot `json:"track"`
}

// maxRecentlyPlayed is the provider's window ceiling for one feed request.
const maxRecentlyPlayed = 50

// RecentlyPlayed fetches the user's most recent play events, newest first.
// Limit is clamped to the provider ceiling of 50. An empty feed is a valid
// result. Non-success responses yield a ProviderError.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]PlayEvent, error) {
	if limit <= 0 || limit > maxRecentlyPlayed {
		limit = maxRecentlyPlayed
	}

	url := fmt.Sprintf("%s/me/player/recently-played?limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Status: resp.StatusCode, Endpoint: "recently-played"}
	}

	var feed struct {
		Items []PlayEvent `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding recently played: %w", err)
	}

	return feed.Items, nil
}
