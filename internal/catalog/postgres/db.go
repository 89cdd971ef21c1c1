package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/duckmesh/askdb/internal/config"
)

// ErrHistoryDisabled is returned by Open when no history DSN is configured.
var ErrHistoryDisabled = errors.New("history database is not configured")

const defaultPingTimeout = 5 * time.Second

type openSettings struct {
	pingTimeout  time.Duration
	maxOpenConns int
}

type OpenOption func(*openSettings)

func WithPingTimeout(d time.Duration) OpenOption {
	return func(s *openSettings) {
		if d > 0 {
			s.pingTimeout = d
		}
	}
}

// WithMaxOpenConns overrides the configured pool size. Migrations run on a
// single connection.
func WithMaxOpenConns(n int) OpenOption {
	return func(s *openSettings) { s.maxOpenConns = n }
}

// Open connects to the history database and pings it before returning.
func Open(ctx context.Context, cfg config.CatalogConfig, opts ...OpenOption) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, ErrHistoryDisabled
	}
	settings := openSettings{pingTimeout: defaultPingTimeout, maxOpenConns: cfg.MaxOpenConns}
	for _, opt := range opts {
		opt(&settings)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", redactDSN(cfg.DSN), err)
	}
	if settings.maxOpenConns > 0 {
		db.SetMaxOpenConns(settings.maxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, settings.pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db %s: %w", redactDSN(cfg.DSN), err)
	}
	return db, nil
}

// redactDSN names the database for error messages without leaking
// credentials. Key/value DSNs are not echoed at all.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "(dsn hidden)"
	}
	return u.Host + u.Path
}
