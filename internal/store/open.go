package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"kalshi-edge/internal/config"
)

// Open builds the store described by cfg. Without a database URL it returns
// the in-memory store. Postgres is migrated on open; a Redis URL wraps the
// result in the read-through cache.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database url configured, using in-memory store")
		return NewMemoryStore(), nil
	}

	pg, err := NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("postgres store ready", "max_conns", cfg.Database.MaxConns)

	if cfg.Redis.URL == "" {
		return pg, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, cache disabled", "error", err)
		rdb.Close()
		return pg, nil
	}
	logger.Info("redis cache enabled", "ttl", cfg.Redis.TTL)
	return NewCachedStore(pg, rdb, cfg.Redis.TTL), nil
}
