package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/joshdurbin/strava-weekly/internal/auth"
	"github.com/joshdurbin/strava-weekly/internal/config"
	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/joshdurbin/strava-weekly/internal/mailer"
	"github.com/joshdurbin/strava-weekly/internal/strava"
	"github.com/joshdurbin/strava-weekly/internal/weekly"
)

// runWeekly prints last week's report to out and mails it when configured
func runWeekly(ctx context.Context, out io.Writer) error {
	log := logging.Logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}

	client, closeStore, err := newActivityClient(ctx, cfg, creds)
	if err != nil {
		return err
	}
	defer closeStore()

	log.Debug().
		Str("time_zone", loc.String()).
		Bool("token_db", cfg.TokenDBPath != "").
		Bool("smtp", cfg.SMTP.Configured()).
		Msg("starting weekly run")

	job := &weekly.Job{
		Activities: client,
		Mailer:     mailer.NewSMTPSender(cfg.SMTP),
		SMTP:       cfg.SMTP,
		Location:   loc,
		Out:        out,
	}

	if _, err := job.Run(ctx); err != nil {
		return err
	}
	return nil
}

// newActivityClient wires the refresher and token store behind a Strava client.
// The returned close function releases the token store.
func newActivityClient(ctx context.Context, cfg config.Config, creds config.Credentials) (*strava.Client, func(), error) {
	store, closeStore, err := openTokenStore(ctx, cfg.TokenDBPath, creds.RefreshToken)
	if err != nil {
		return nil, nil, err
	}

	refresher := auth.NewRefresher(auth.Strava(), creds.ClientID, creds.ClientSecret, store)
	return strava.NewClient(refresher), closeStore, nil
}

// openTokenStore keeps rotated refresh tokens in SQLite when a path is set,
// otherwise always uses the configured token.
func openTokenStore(ctx context.Context, path, seed string) (auth.TokenStore, func(), error) {
	log := logging.Logger

	if path == "" {
		return auth.NewStaticStore(seed), func() {}, nil
	}

	log.Debug().Str("path", path).Msg("opening token database")
	store, err := auth.OpenSQLiteStore(ctx, path, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("opening token store %s: %w", path, err)
	}

	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing token database")
		}
	}, nil
}

// unconfigured stands in for the Strava client when credentials are missing,
// so long-running servers start anyway and report the problem per request.
type unconfigured struct {
	err error
}

func (u unconfigured) ListActivities(ctx context.Context, after, before int64, perPage int) ([]strava.Activity, error) {
	return nil, u.err
}

// reportSource returns the activity lister for the MCP surfaces
func reportSource(ctx context.Context, cfg config.Config) (weekly.ActivityLister, func(), error) {
	creds, err := cfg.Credentials()
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("Strava credentials missing, weekly_report will fail until they are set")
		return unconfigured{err: err}, func() {}, nil
	}
	return newActivityClient(ctx, cfg, creds)
}
