package database

import (
	"path/filepath"
	"testing"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrateInMemory(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: ":memory:", MaxConnections: 4})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	// a second run is a no-op
	require.NoError(t, Migrate(db))

	version, dirty, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM config_entries"))
	assert.Zero(t, count)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "switchbot.db")

	db, err := Open(config.DatabaseConfig{Path: path, MaxConnections: 1})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	assert.FileExists(t, path)
}

func TestRollbackDropsSchema(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	require.NoError(t, Rollback(db))

	var count int
	assert.Error(t, db.Get(&count, "SELECT COUNT(*) FROM config_entries"))

	require.NoError(t, Migrate(db))
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM config_entries"))
}
