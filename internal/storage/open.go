package storage

import (
	"context"
	"fmt"

	"github.com/example/ride-escrow/internal/config"
)

// Open connects the backend selected in cfg. Postgres tables are created
// when cfg.RunMigrations is set.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		rs := NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return rs, nil
	case "postgres":
		ps, err := NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				_ = ps.Close()
				return nil, err
			}
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
