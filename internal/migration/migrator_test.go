package migration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewMigrator(&Config{DatabaseURL: ""})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestBuildSQLiteURL(t *testing.T) {
	assert.Equal(t, "file:/tmp/fleet.db?mode=rwc&_pragma=foreign_keys(1)", BuildSQLiteURL("/tmp/fleet.db"))
}

func newTestMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	migrator, err := NewMigrator(&Config{
		DatabaseURL: BuildSQLiteURL(dbPath),
		TableName:   "schema_migrations",
	})
	require.NoError(t, err)
	t.Cleanup(func() { migrator.Close() })
	return migrator
}

func TestMigrator_UpAndDown(t *testing.T) {
	migrator := newTestMigrator(t)
	ctx := context.Background()

	version, dirty, err := migrator.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, migrator.Up(ctx))

	version, dirty, err = migrator.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, version, uint(0))
	assert.False(t, dirty)

	info, err := migrator.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, info.TotalMigrations, info.AppliedMigrations)
	assert.Equal(t, 0, info.PendingMigrations)

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied)
	}

	require.NoError(t, migrator.Down(ctx))
	newVersion, _, err := migrator.Version(ctx)
	require.NoError(t, err)
	assert.Less(t, newVersion, version)
}

func TestAvailableMigrationsSortedByVersion(t *testing.T) {
	migrations, err := availableMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].version, migrations[i-1].version)
	}
}

func TestCLI_RunVersionReportsNoMigrations(t *testing.T) {
	migrator := newTestMigrator(t)
	cli := NewCLI(migrator)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	cli.SetOutput(w)

	require.NoError(t, cli.RunVersion(context.Background()))
	w.Close()

	buf := make([]byte, 1024)
	n, _ := r.Read(buf)
	assert.Contains(t, string(buf[:n]), "No migrations applied yet")
}

func TestCLI_RunUpReportsCurrentVersion(t *testing.T) {
	migrator := newTestMigrator(t)
	cli := NewCLI(migrator)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	cli.SetOutput(w)

	require.NoError(t, cli.RunUp(context.Background()))
	w.Close()

	buf := make([]byte, 1024)
	n, _ := r.Read(buf)
	assert.Contains(t, string(buf[:n]), "Migrations complete")
}
