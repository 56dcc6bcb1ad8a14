package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Checker is a health check function that returns an error if unhealthy
type Checker func() error

// CheckerConfig holds configuration for health checkers
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns default configuration for health checkers
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		Timeout: 2 * time.Second,
	}
}

// PostgresChecker returns a health check function for the pgx pool
func PostgresChecker(pool *pgxpool.Pool) Checker {
	return PostgresCheckerWithConfig(pool, DefaultCheckerConfig())
}

// PostgresCheckerWithConfig returns a pgx pool health checker with custom configuration
func PostgresCheckerWithConfig(pool *pgxpool.Pool, cfg CheckerConfig) Checker {
	return func() error {
		if pool == nil {
			return fmt.Errorf("database pool is nil")
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		return nil
	}
}

// DatabaseChecker returns a health check function for a database/sql handle
func DatabaseChecker(db *sql.DB) Checker {
	return DatabaseCheckerWithConfig(db, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig returns a database/sql health checker with custom configuration
func DatabaseCheckerWithConfig(db *sql.DB, cfg CheckerConfig) Checker {
	return func() error {
		if db == nil {
			return fmt.Errorf("database connection is nil")
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		return nil
	}
}

// RedisChecker returns a health check function for Redis
func RedisChecker(client *redis.Client) Checker {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig returns a Redis health checker with custom configuration
func RedisCheckerWithConfig(client *redis.Client, cfg CheckerConfig) Checker {
	return func() error {
		if client == nil {
			return fmt.Errorf("redis client is nil")
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		return nil
	}
}

// ConnectedChecker adapts a connection predicate into a health check.
// Useful for clients that expose their own connectivity state, like the
// NATS event bus.
func ConnectedChecker(name string, connected func() bool) Checker {
	return func() error {
		if !connected() {
			return fmt.Errorf("%s not connected", name)
		}
		return nil
	}
}
