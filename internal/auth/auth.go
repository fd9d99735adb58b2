// Package auth mints short-lived Spotify access tokens from stored
// refresh tokens and detects refresh-token rotation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
)

// ErrAuthFailure is returned when the provider rejects a refresh credential
// (expired or revoked). The affected user needs manual re-authorization.
var ErrAuthFailure = errors.New("refresh credential rejected")

// Credentials is the outcome of a successful refresh.
type Credentials struct {
	AccessToken string
	Expiry      time.Time

	// RefreshToken is the credential to store. When the provider rotates
	// the refresh token, Rotated is true and RefreshToken differs from
	// the one passed to Refresh; it must be persisted before any further
	// provider call for that user, because the previous one may already
	// be invalid.
	RefreshToken string
	Rotated      bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenURL overrides the token endpoint. Used in tests.
func WithTokenURL(url string) Option {
	return func(m *Manager) {
		m.conf.Endpoint.TokenURL = url
		m.ccConf.TokenURL = url
	}
}

// Manager performs OAuth2 token grants against the provider. All refresh
// handling is centralized here so callers observe a single
// refresh-then-persist contract.
type Manager struct {
	conf   *oauth2.Config
	ccConf *clientcredentials.Config
}

// New creates a Manager from the application's client credentials.
func New(clientID, clientSecret string, opts ...Option) *Manager {
	m := &Manager{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyAuthURL,
				TokenURL: spotifyTokenURL,
			},
		},
		ccConf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     spotifyTokenURL,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh exchanges a stored refresh token for a fresh access token.
// Returns ErrAuthFailure when the provider rejects the refresh token.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	seed := &oauth2.Token{RefreshToken: refreshToken}

	tok, err := m.conf.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	creds := &Credentials{
		AccessToken:  tok.AccessToken,
		Expiry:       tok.Expiry,
		RefreshToken: refreshToken,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		creds.RefreshToken = tok.RefreshToken
		creds.Rotated = true
	}
	return creds, nil
}

// ClientCredentials mints an app-scoped access token (no user context).
// The backfill job uses this grant; it never touches user endpoints.
func (m *Manager) ClientCredentials(ctx context.Context) (string, error) {
	tok, err := m.ccConf.Token(ctx)
	if err != nil {
		return "", classifyTokenError(err)
	}
	return tok.AccessToken, nil
}

// HTTPClient returns an http.Client that sends the given access token as a
// Bearer credential on every request.
func (m *Manager) HTTPClient(ctx context.Context, accessToken string) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// classifyTokenError maps token-endpoint rejections to ErrAuthFailure and
// leaves transport-level failures as-is.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%w: invalid_grant", ErrAuthFailure)
		}
		if re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			return fmt.Errorf("%w: token endpoint returned %d", ErrAuthFailure, re.Response.StatusCode)
		}
	}
	return fmt.Errorf("requesting token: %w", err)
}
