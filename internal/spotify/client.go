// Package spotify provides the slice of the Spotify Web API the reconciler
// needs: the recently-played feed plus batched artist and audio-feature
// metadata lookups.
package spotify

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	api "github.com/zmb3/spotify/v2"
)

// DefaultBaseURL is the Spotify Web API root.
const DefaultBaseURL = "https://api.spotify.com/v1"

// Provider batch ceilings. Requests above these are rejected outright.
const (
	maxArtistsPerRequest = 50
	maxTracksPerRequest  = 100
)

// metadataAPI is the slice of the underlying API client used by the
// enrichment calls.
type metadataAPI interface {
	GetArtists(ctx context.Context, ids ...api.ID) ([]*api.FullArtist, error)
	GetAudioFeatures(ctx context.Context, ids ...api.ID) ([]*api.AudioFeatures, error)
}

// Client wraps an authenticated HTTP client with convenience methods.
// Metadata endpoints go through the library client; the recently-played
// feed is fetched directly because the library's mapping drops the track
// popularity field the store schema records.
type Client struct {
	api     metadataAPI
	http    *http.Client
	baseURL string
	log     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithLogger sets the logger for enrichment progress and chunk failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a Client. The HTTP client must already carry the access
// credential (see auth.Manager.HTTPClient).
func New(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		api:     api.New(httpClient),
		http:    httpClient,
		baseURL: DefaultBaseURL,
		log:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
