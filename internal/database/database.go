// Package database provides the durable stores for cost tracking records:
// PostgreSQL for production and SQLite for single-node and embedded use.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// DB wraps the PostgreSQL connection pool and provides query methods.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate runs database schema migrations.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) Migrate(ctx context.Context) error {
	// Acquire a dedicated connection for the advisory lock.
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// Application-specific lock ID to avoid collisions with other apps on the
	// same PostgreSQL instance.
	const migrationLockID int64 = 0x4F43_4F02 // "OCO" prefix + 02
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.WithError(err).WithField("component", "database").Warn("releasing migration lock failed")
		}
	}()

	schema := `
	CREATE TABLE IF NOT EXISTS cost_tracking (
		id                TEXT PRIMARY KEY,
		organization_id   TEXT NOT NULL,
		user_id           TEXT,
		request_id        TEXT NOT NULL UNIQUE,
		prompt_excerpt    TEXT NOT NULL DEFAULT '',
		prompt_tokens     BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		model_used        TEXT NOT NULL,
		provider          TEXT NOT NULL,
		tier              TEXT NOT NULL,
		complexity_score  INTEGER NOT NULL DEFAULT 0,
		cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms        BIGINT NOT NULL DEFAULT 0,
		cached            BOOLEAN NOT NULL DEFAULT FALSE,
		savings_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata          JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_cost_tracking_org_created ON cost_tracking(organization_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_cost_tracking_provider ON cost_tracking(provider);
	`

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	log.WithField("component", "database").Info("migrations applied")
	return nil
}
