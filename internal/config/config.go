// Package config reads playlog configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Provider ceiling for the recently-played endpoint; requests above this are
// rejected, so the configured fetch limit is clamped to it.
const MaxFetchLimit = 50

// Defaults applied when the corresponding variable is unset.
const (
	DefaultFetchLimit = 50
	DefaultRunTimeout = 10 * time.Minute
	DefaultUserDelay  = 2 * time.Second
)

// Sentinel errors for missing required variables.
var (
	ErrMissingDatabaseURL  = errors.New("missing DATABASE_URL environment variable")
	ErrMissingClientID     = errors.New("missing SPOTIFY_ID environment variable")
	ErrMissingClientSecret = errors.New("missing SPOTIFY_SECRET environment variable")
)

// Config holds everything the sync and backfill jobs need.
type Config struct {
	DatabaseURL  string
	ClientID     string
	ClientSecret string

	// WebhookURL is the notification endpoint. Empty disables the
	// end-of-run notification.
	WebhookURL string

	// FetchLimit is the recently-played window size, clamped to MaxFetchLimit.
	FetchLimit int

	// RunTimeout bounds a whole sync or backfill invocation.
	RunTimeout time.Duration

	// UserDelay paces per-user processing to stay under the provider's
	// global rate budget.
	UserDelay time.Duration
}

// Load reads configuration from the environment. Returns a sentinel error
// for each missing required variable.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		ClientID:     os.Getenv("SPOTIFY_ID"),
		ClientSecret: os.Getenv("SPOTIFY_SECRET"),
		WebhookURL:   os.Getenv("WEBHOOK_URL"),
		FetchLimit:   DefaultFetchLimit,
		RunTimeout:   DefaultRunTimeout,
		UserDelay:    DefaultUserDelay,
	}

	if cfg.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	if cfg.ClientID == "" {
		return nil, ErrMissingClientID
	}
	if cfg.ClientSecret == "" {
		return nil, ErrMissingClientSecret
	}

	if v := os.Getenv("SYNC_FETCH_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid SYNC_FETCH_LIMIT %q", v)
		}
		cfg.FetchLimit = limit
	}
	if cfg.FetchLimit > MaxFetchLimit {
		cfg.FetchLimit = MaxFetchLimit
	}

	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing RUN_TIMEOUT: %w", err)
		}
		cfg.RunTimeout = d
	}

	if v := os.Getenv("USER_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing USER_DELAY: %w", err)
		}
		cfg.UserDelay = d
	}

	return cfg, nil
}
