// Package backend opens the store.Store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/livepoll/classroom/config"
	"github.com/livepoll/classroom/internal/store"
	"github.com/livepoll/classroom/internal/store/postgres"
	"github.com/livepoll/classroom/internal/store/sqlite"
	"github.com/livepoll/classroom/pkg/database"
)

// Open connects to the configured driver. PostgreSQL schemas are migrated before use.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return postgres.New(pool), nil
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.Storage.SQLitePath))
		return st, nil
	case config.DriverMemory:
		logger.Warn("using in-memory store; state is lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
