// Package mariadb provides the MariaDB enrollment store. Embeddings are kept
// as JSON arrays.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/bioauth/internal/config"
)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NormalizeDSN parses dsn and forces the options the store relies on.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// NewPool creates a new MariaDB connection pool.
func NewPool(ctx context.Context, cfg *config.MariaDBConfig) (*Pool, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	dsn, err := NormalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Ping verifies the database is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging MariaDB: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Open connects, applies pending migrations and returns a ready store.
func Open(ctx context.Context, cfg *config.MariaDBConfig) (*Store, []string, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	applied, err := pool.Migrate(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewStore(pool), applied, nil
}
