package migration

import (
	"fmt"

	fleetconfig "github.com/agentic-qe/fleet/config"
)

// NewMigratorFromConfig builds a Migrator for the memory store's sqlite
// file named in cfg.Memory.SQLitePath.
func NewMigratorFromConfig(cfg *fleetconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Memory.SQLitePath == "" {
		return nil, fmt.Errorf("memory.sqlite_path is required to run migrations")
	}

	return NewMigrator(&Config{
		DatabaseURL: BuildSQLiteURL(cfg.Memory.SQLitePath),
		TableName:   "schema_migrations",
	})
}

// NewMigratorFromPath builds a Migrator against an arbitrary sqlite file
// path, for tests and one-off tooling.
func NewMigratorFromPath(path string) (*DefaultMigrator, error) {
	return NewMigrator(&Config{
		DatabaseURL: BuildSQLiteURL(path),
		TableName:   "schema_migrations",
	})
}
