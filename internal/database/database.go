// Package database provides connection management for the reservation store:
// a pgx pool for PostgreSQL and a modernc SQLite handle for embedded use.
package database

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema/*.sql
var schemaFS embed.FS

func schema(name string) (string, error) {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return "", fmt.Errorf("read schema %s: %w", name, err)
	}
	return string(b), nil
}

// NewPool creates and validates a pgxpool connection pool, then applies the
// schema. It retries to accommodate containers starting up.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	attempts := max(cfg.ConnectRetries, 1)
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		log.Warn("db connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := ApplyPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// ApplyPostgresSchema creates missing tables and indexes. It is idempotent.
func ApplyPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl, err := schema("postgres.sql")
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}
