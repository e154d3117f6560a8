package optout

import (
	"context"
	"fmt"

	"spamstop/internal/config"
)

// Open returns the backend selected by cfg.Backend. An empty backend means
// the plain file.
func Open(ctx context.Context, cfg config.OptOutConfig) (Repository, error) {
	switch cfg.Backend {
	case "", "file":
		return OpenFile(config.ExpandHome(cfg.FilePath))
	case "sqlite":
		return OpenSQLite(config.ExpandHome(cfg.SQLitePath))
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unknown opt-out backend %q", cfg.Backend)
	}
}
