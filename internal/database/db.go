package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"nifty-insight-server/internal/logging"
)

// Pool sizing for a single-instance deployment.
const (
	poolMaxConns        = 25
	poolMinConns        = 5
	poolConnLifetime    = time.Hour
	poolConnIdleTime    = 30 * time.Minute
	poolHealthFrequency = time.Minute
	connectTimeout      = 10 * time.Second
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c Config) connString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB opens a connection pool and verifies it with a ping.
func NewDB(cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = poolMaxConns
	poolConfig.MinConns = poolMinConns
	poolConfig.MaxConnLifetime = poolConnLifetime
	poolConfig.MaxConnIdleTime = poolConnIdleTime
	poolConfig.HealthCheckPeriod = poolHealthFrequency

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Schema statements, applied in order. All are idempotent so startup
// can run them unconditionally.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username VARCHAR(64) UNIQUE NOT NULL,
		password_hash VARCHAR(128) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		scenario VARCHAR(10) NOT NULL,
		signal VARCHAR(10) NOT NULL,
		entry_price DECIMAL(20, 8) NOT NULL,
		stop_price DECIMAL(20, 8),
		target_price DECIMAL(20, 8),
		risk_reward DECIMAL(10, 4),
		position_size INT NOT NULL DEFAULT 1,
		confidence DECIMAL(5, 4),
		reason TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals(timestamp)`,

	`CREATE TABLE IF NOT EXISTS activity_logs (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		level VARCHAR(16) NOT NULL,
		message TEXT NOT NULL,
		context JSONB DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_logs_timestamp ON activity_logs(timestamp)`,

	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id UUID PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		timeframe VARCHAR(10) NOT NULL,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP NOT NULL,
		initial_capital DECIMAL(20, 8) NOT NULL,
		final_equity DECIMAL(20, 8) NOT NULL,
		total_trades INT NOT NULL DEFAULT 0,
		win_rate DECIMAL(5, 2),
		net_profit DECIMAL(20, 8),
		roi DECIMAL(10, 4),
		max_drawdown DECIMAL(10, 4),
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol ON backtest_runs(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_created_at ON backtest_runs(created_at DESC)`,
}

// RunMigrations applies the schema statements one by one.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations", "statements", len(migrations))

	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations completed")
	return nil
}
