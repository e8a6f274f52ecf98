package auth

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joshdurbin/strava-weekly/internal/apperr"
	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// TokenStore holds the refresh token between runs
type TokenStore interface {
	RefreshToken(ctx context.Context) (string, error)
	SaveRefreshToken(ctx context.Context, token string) error
}

// StaticStore always hands out the configured refresh token. Rotated tokens
// are dropped, so every run starts from the same configuration.
type StaticStore struct {
	token string
}

// NewStaticStore creates a store around the configured refresh token
func NewStaticStore(token string) *StaticStore {
	return &StaticStore{token: token}
}

// RefreshToken returns the configured token
func (s *StaticStore) RefreshToken(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", apperr.NewConfigError("STRAVA_REFRESH_TOKEN")
	}
	return s.token, nil
}

// SaveRefreshToken discards the token
func (s *StaticStore) SaveRefreshToken(ctx context.Context, token string) error {
	logging.Logger.Warn().
		Msg("rotated refresh token not persisted; set STRAVA_TOKEN_DB to keep it, or update STRAVA_REFRESH_TOKEN if the old one stops working")
	return nil
}

// SQLiteStore keeps the latest refresh token in a single-row SQLite table.
// The configured token seeds the table; when the configuration changes (after
// re-authorizing), the stored token is ignored in favour of the new seed.
type SQLiteStore struct {
	db   *sql.DB
	seed string
}

// OpenSQLiteStore opens (creating if needed) the token database and migrates it
func OpenSQLiteStore(ctx context.Context, path, seed string) (*SQLiteStore, error) {
	log := logging.Logger

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening token database: %w", err)
	}

	// One connection: the store is read once and written at most once per run
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, sqlDB, fsys)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	for _, r := range results {
		log.Debug().Int64("version", r.Source.Version).Str("path", r.Source.Path).Msg("migration applied")
	}

	return &SQLiteStore{db: sqlDB, seed: seed}, nil
}

// RefreshToken returns the stored token, or the seed when nothing newer is stored
func (s *SQLiteStore) RefreshToken(ctx context.Context) (string, error) {
	var seed, token string
	err := s.db.QueryRowContext(ctx,
		`SELECT seed_token, refresh_token FROM refresh_tokens WHERE id = 1`,
	).Scan(&seed, &token)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.fromSeed()
	case err != nil:
		return "", fmt.Errorf("loading refresh token: %w", err)
	case seed != s.seed:
		logging.Logger.Info().Msg("STRAVA_REFRESH_TOKEN changed since the last run, using it")
		return s.fromSeed()
	default:
		return token, nil
	}
}

func (s *SQLiteStore) fromSeed() (string, error) {
	if s.seed == "" {
		return "", apperr.NewConfigError("STRAVA_REFRESH_TOKEN")
	}
	return s.seed, nil
}

// SaveRefreshToken upserts the token for the current seed
func (s *SQLiteStore) SaveRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, seed_token, refresh_token, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			seed_token = excluded.seed_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at`,
		s.seed, token, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}
	logging.Logger.Debug().Msg("rotated refresh token saved")
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
