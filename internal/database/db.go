package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDB connects to the entity store using a DATABASE_URL-style DSN.
func NewDB(ctx context.Context, url string, log zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{Pool: pool, log: log}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// HealthCheck pings the store.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations creates the entity tables. All monetary quantities are
// NUMERIC(78,0) fixed-point integers; bucket averages and volumes carry a
// fractional scale. Primary keys are content-addressed SHA-256 hex ids.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pools (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			pool_address VARCHAR(66) NOT NULL,
			order_book VARCHAR(66),
			base_currency VARCHAR(20) NOT NULL,
			quote_currency VARCHAR(20) NOT NULL,
			base_decimals INT NOT NULL,
			quote_decimals INT NOT NULL,
			cumulative_volume_base NUMERIC(78, 0) NOT NULL DEFAULT 0,
			cumulative_volume_quote NUMERIC(78, 0) NOT NULL DEFAULT 0,
			last_price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			last_update_ts BIGINT NOT NULL DEFAULT 0,
			UNIQUE (chain_id, pool_address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_symbol ON pools(lower(base_currency || quote_currency))`,

		`CREATE TABLE IF NOT EXISTS currencies (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			address VARCHAR(66) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			name VARCHAR(100),
			decimals INT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			UNIQUE (chain_id, address)
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			pool_address VARCHAR(66) NOT NULL,
			order_id VARCHAR(80) NOT NULL,
			user_address VARCHAR(66) NOT NULL,
			side VARCHAR(8) NOT NULL,
			order_type VARCHAR(12) NOT NULL,
			price NUMERIC(78, 0) NOT NULL,
			quantity NUMERIC(78, 0) NOT NULL,
			filled NUMERIC(78, 0) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			expiry BIGINT NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL,
			last_update_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_pool_status ON orders(user_address, pool_address, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pool ON orders(pool_address)`,

		`CREATE TABLE IF NOT EXISTS order_history (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			pool_address VARCHAR(66) NOT NULL,
			order_id VARCHAR(80) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			user_address VARCHAR(66) NOT NULL,
			side VARCHAR(8),
			order_type VARCHAR(12),
			price NUMERIC(78, 0),
			quantity NUMERIC(78, 0),
			filled NUMERIC(78, 0) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			timestamp BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_history_order ON order_history(chain_id, pool_address, order_id)`,

		`CREATE TABLE IF NOT EXISTS depth_levels (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			pool_address VARCHAR(66) NOT NULL,
			side VARCHAR(8) NOT NULL,
			price NUMERIC(78, 0) NOT NULL,
			quantity NUMERIC(78, 0) NOT NULL DEFAULT 0,
			order_count BIGINT NOT NULL DEFAULT 0,
			last_updated BIGINT NOT NULL,
			UNIQUE (chain_id, pool_address, side, price)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_depth_pool_side_price ON depth_levels(pool_address, side, price)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			pool_address VARCHAR(66) NOT NULL,
			order_id VARCHAR(80) NOT NULL,
			user_address VARCHAR(66) NOT NULL,
			side VARCHAR(8) NOT NULL,
			price NUMERIC(78, 0) NOT NULL,
			quantity NUMERIC(78, 0) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			timestamp BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_pool_ts ON trades(pool_address, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_address)`,

		`CREATE TABLE IF NOT EXISTS order_book_trades (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			pool_address VARCHAR(66) NOT NULL,
			price NUMERIC(78, 0) NOT NULL,
			quantity NUMERIC(78, 0) NOT NULL,
			taker_side VARCHAR(8) NOT NULL,
			buy_order_id VARCHAR(80) NOT NULL,
			sell_order_id VARCHAR(80) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			timestamp BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_obt_ts ON order_book_trades(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_obt_pool_ts ON order_book_trades(pool_address, timestamp)`,

		`CREATE TABLE IF NOT EXISTS balances (
			id CHAR(64) PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			user_address VARCHAR(66) NOT NULL,
			currency VARCHAR(66) NOT NULL,
			available NUMERIC(78, 0) NOT NULL DEFAULT 0,
			locked NUMERIC(78, 0) NOT NULL DEFAULT 0,
			last_updated BIGINT NOT NULL,
			UNIQUE (chain_id, user_address, currency)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balances_user ON balances(user_address)`,
	}

	for _, interval := range []string{"1m", "5m", "30m", "1h", "1d"} {
		migrations = append(migrations,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS buckets_%s (
				id CHAR(64) PRIMARY KEY,
				chain_id BIGINT NOT NULL,
				pool_address VARCHAR(66) NOT NULL,
				open_time BIGINT NOT NULL,
				close_time BIGINT NOT NULL,
				open NUMERIC(78, 0) NOT NULL,
				high NUMERIC(78, 0) NOT NULL,
				low NUMERIC(78, 0) NOT NULL,
				close NUMERIC(78, 0) NOT NULL,
				average NUMERIC(98, 20) NOT NULL,
				count BIGINT NOT NULL DEFAULT 1,
				volume NUMERIC(98, 20) NOT NULL DEFAULT 0,
				quote_volume NUMERIC(98, 20) NOT NULL DEFAULT 0,
				taker_buy_base_volume NUMERIC(98, 20) NOT NULL DEFAULT 0,
				taker_buy_quote_volume NUMERIC(98, 20) NOT NULL DEFAULT 0,
				UNIQUE (chain_id, pool_address, open_time)
			)`, interval),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_buckets_%s_pool_open ON buckets_%s(pool_address, open_time)`, interval, interval),
		)
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Msg("database migrations completed")
	return nil
}
