// Package db persists archived patterns and completed trades to PostgreSQL.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quantfabric/mycelium/internal/config"
)

// PoolInterface is the pool surface the repositories use; satisfied by both
// pgxpool.Pool and the pgxmock test pool.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	pool   PoolInterface
	closer func()
	log    zerolog.Logger
}

// Connect creates a connection pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log := config.NewLogger("db")
	log.Info().Msg("Database connection pool created")
	return &DB{pool: pool, closer: pool.Close, log: log}, nil
}

// NewWithPool wraps an existing pool, used by tests with pgxmock.
func NewWithPool(pool PoolInterface) *DB {
	return &DB{pool: pool, log: config.NewLogger("db")}
}

// Close closes the underlying pool.
func (db *DB) Close() error {
	if db.closer != nil {
		db.closer()
		db.log.Info().Msg("Database connection pool closed")
	}
	return nil
}
