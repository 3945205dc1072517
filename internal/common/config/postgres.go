package config

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolConfig translates the DB_* settings into a pgxpool config.
// Every session gets application_name and statement_timeout so that stuck
// booking transactions show up in pg_stat_activity and are cut off.
func (c *Config) PostgresPoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	if c.DBMinConns > c.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	poolConfig.MaxConns = int32(c.DBMaxConns)
	poolConfig.MinConns = int32(c.DBMinConns)
	poolConfig.MaxConnLifetime = time.Duration(c.DBMaxConnLifetime) * time.Minute
	poolConfig.MaxConnIdleTime = time.Duration(c.DBMaxConnIdleTime) * time.Minute

	params := poolConfig.ConnConfig.RuntimeParams
	if c.DBApplicationName != "" {
		params["application_name"] = c.DBApplicationName
	}
	if c.DBStatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.DBStatementTimeout.Milliseconds(), 10)
	}

	return poolConfig, nil
}

// NewPostgresPool connects and pings. The caller owns the returned pool.
func (c *Config) NewPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := c.PostgresPoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
