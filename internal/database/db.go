// Package database persists the order and cycle journal in PostgreSQL and
// runtime snapshots in Redis.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "database").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS orders_journal (
		id BIGSERIAL PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		client_order_id VARCHAR(64),
		symbol VARCHAR(20) NOT NULL,
		side VARCHAR(4) NOT NULL,
		position_side VARCHAR(5) NOT NULL,
		order_type VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		price DECIMAL(30, 12),
		quantity DECIMAL(30, 12) NOT NULL,
		filled_quantity DECIMAL(30, 12) DEFAULT 0,
		reduce_only BOOLEAN NOT NULL DEFAULT FALSE,
		reason VARCHAR(32),
		event VARCHAR(32) NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_journal_symbol ON orders_journal(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_journal_client_order_id ON orders_journal(client_order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_journal_recorded_at ON orders_journal(recorded_at)`,

	`CREATE TABLE IF NOT EXISTS cycle_history (
		cycle BIGINT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		long_exposure DECIMAL(20, 8),
		short_exposure DECIMAL(20, 8),
		pnl_pct DECIMAL(20, 8),
		open_long INTEGER NOT NULL,
		open_short INTEGER NOT NULL,
		PRIMARY KEY (cycle, completed_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cycle_history_completed_at ON cycle_history(completed_at)`,

	`CREATE TABLE IF NOT EXISTS unstuck_actions (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		position_side VARCHAR(5) NOT NULL,
		force BOOLEAN NOT NULL,
		kill BOOLEAN NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
}

// RunMigrations creates the journal tables
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Int("statements", len(migrations)).Msg("Running database migrations")
	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
