package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/config"
	"github.com/agentic-qe/fleet/internal/database"
	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/internal/migration"
	"github.com/agentic-qe/fleet/internal/pattern"
	"github.com/agentic-qe/fleet/types"
)

// OpenProductionBackends is the one production path that should build a
// durable memory store and pattern store from cfg: it applies pending
// schema migrations to cfg.Memory.SQLitePath before opening either
// GORM connection, since a freshly created sqlite file has no tables
// until the migrator's Up runs. The returned Store and Store's patterns
// are loaded from their respective tables, so both survive a process
// restart.
func OpenProductionBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (memorystore.Store, *pattern.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	migrator, err := migration.NewMigratorFromConfig(cfg)
	if err != nil {
		return nil, nil, types.Wrap(types.ErrStorage, "build migrator", err)
	}
	defer migrator.Close()
	if err := migrator.Up(ctx); err != nil {
		return nil, nil, types.Wrap(types.ErrStorage, "apply schema migrations", err)
	}

	poolConfig := database.DefaultPoolConfig()

	memDB, err := memorystore.OpenSQLite(cfg.Memory.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	store, err := memorystore.NewSQLStore(memDB, poolConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	patternDB, err := memorystore.OpenSQLite(cfg.Memory.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	persist, err := pattern.NewSQLPersistence(patternDB, poolConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	patterns := pattern.New(toPatternConfig(cfg.Pattern), nil, persist, logger, nil)
	if _, err := patterns.Load(ctx); err != nil {
		return nil, nil, err
	}

	return store, patterns, nil
}

func toPatternConfig(cfg config.PatternConfig) pattern.Config {
	return pattern.Config{
		MaxPatterns:            cfg.MaxPatterns,
		LearningRate:           cfg.LearningRate,
		MinConfidenceThreshold: cfg.MinConfidenceThreshold,
	}
}
