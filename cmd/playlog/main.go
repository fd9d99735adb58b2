// Command playlog reconciles Spotify listening history into PostgreSQL.
//
// Two cron-triggered jobs share one binary: "sync" pulls each registered
// user's recently-played feed and appends the new plays, "backfill" sweeps
// the tracks table for missing audio-feature vectors and fills them.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/acrenn/playlog/internal/auth"
	"github.com/acrenn/playlog/internal/backfill"
	"github.com/acrenn/playlog/internal/config"
	"github.com/acrenn/playlog/internal/db"
	"github.com/acrenn/playlog/internal/report"
	"github.com/acrenn/playlog/internal/spotify"
	"github.com/acrenn/playlog/internal/syncer"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	app := &cli.Command{
		Name:  "playlog",
		Usage: "Reconcile Spotify listening history into PostgreSQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "Path to an optional .env file",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "Reconcile every registered user's recent plays",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "Sync only this Spotify user ID",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSync(ctx, cmd, logger)
				},
			},
			{
				Name:  "backfill",
				Usage: "Fill missing audio-feature vectors across the tracks table",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runBackfill(ctx, cmd, logger)
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("playlog: %v", err)
	}
}

// setup loads configuration and opens shared collaborators.
func setup(ctx context.Context, cmd *cli.Command, logger *log.Logger) (*config.Config, *db.DB, *auth.Manager, error) {
	if cmd.Bool("verbose") {
		logger.SetLevel(log.DebugLevel)
	}

	if envPath := cmd.String("env"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, nil, nil, err
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, database, auth.New(cfg.ClientID, cfg.ClientSecret), nil
}

func runSync(ctx context.Context, cmd *cli.Command, logger *log.Logger) error {
	cfg, database, authMgr, err := setup(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	service := syncer.New(syncer.Deps{
		Auth: authMgr,
		NewProvider: func(ctx context.Context, accessToken string) syncer.Provider {
			return spotify.New(authMgr.HTTPClient(ctx, accessToken), spotify.WithLogger(logger))
		},
		Users:   database.Users(),
		Artists: database.Artists(),
		Tracks:  database.Tracks(),
		History: database.History(),
	},
		syncer.WithFetchLimit(cfg.FetchLimit),
		syncer.WithUserDelay(cfg.UserDelay),
		syncer.WithLogger(logger),
	)

	var stats *report.RunStats
	if user := cmd.String("user"); user != "" {
		stats, err = service.RunOne(ctx, user)
	} else {
		stats, err = service.Run(ctx)
	}
	if err != nil {
		return err
	}

	if err := report.NewNotifier(cfg.WebhookURL).Send(ctx, stats); err != nil {
		logger.Error("sending run notification", "run", stats.RunID(), "err", err)
	}
	logger.Info("sync finished", "run", stats.RunID(), "new", stats.TotalInserted())
	return nil
}

func runBackfill(ctx context.Context, cmd *cli.Command, logger *log.Logger) error {
	cfg, database, authMgr, err := setup(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	sweeper := backfill.New(
		database.Tracks(),
		database.Tracks(),
		authMgr,
		func(ctx context.Context, accessToken string) backfill.Enricher {
			return spotify.New(authMgr.HTTPClient(ctx, accessToken), spotify.WithLogger(logger))
		},
		backfill.WithLogger(logger),
	)

	_, err = sweeper.Run(ctx)
	return err
}
