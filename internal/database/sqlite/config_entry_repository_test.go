package sqlite_test

import (
	"context"
	"testing"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/models"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/repositories"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/sqlite"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) repositories.ConfigEntryRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return sqlite.NewConfigEntryRepository(db, logger.Discard())
}

func newEntry(id, token string) *models.ConfigEntry {
	return &models.ConfigEntry{ID: id, Title: "Home " + id, APIToken: token, APISecret: "secret-" + token}
}

func TestConfigEntryRepository_CreateAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	entry := newEntry("e1", "tok1")
	require.NoError(t, repo.Create(ctx, entry))
	assert.Equal(t, models.EntryStateNotLoaded, entry.State)
	assert.False(t, entry.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Home e1", got.Title)
	assert.Equal(t, "tok1", got.APIToken)
	assert.Equal(t, "secret-tok1", got.APISecret)
	assert.Equal(t, models.EntryStateNotLoaded, got.State)
	assert.False(t, got.Disabled)
	assert.WithinDuration(t, entry.CreatedAt, got.CreatedAt, 0)
}

func TestConfigEntryRepository_GetMissing(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestConfigEntryRepository_DuplicateToken(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newEntry("e1", "tok")))
	err := repo.Create(ctx, newEntry("e2", "tok"))
	assert.ErrorIs(t, err, repositories.ErrDuplicate)

	err = repo.Create(ctx, newEntry("e1", "other"))
	assert.ErrorIs(t, err, repositories.ErrDuplicate)
}

func TestConfigEntryRepository_List(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newEntry("a", "t1")))
	require.NoError(t, repo.Create(ctx, newEntry("b", "t2")))

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{entries[0].ID, entries[1].ID})
}

func TestConfigEntryRepository_SetState(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newEntry("e1", "tok")))

	require.NoError(t, repo.SetState(ctx, "e1", models.EntryStateSetupError, "authentication failed"))

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStateSetupError, got.State)
	assert.Equal(t, "authentication failed", got.LastError)

	err = repo.SetState(ctx, "missing", models.EntryStateLoaded, "")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestConfigEntryRepository_Update(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	entry := newEntry("e1", "tok")
	require.NoError(t, repo.Create(ctx, entry))

	entry.Title = "Renamed"
	entry.APISecret = "rotated"
	entry.Disabled = true
	require.NoError(t, repo.Update(ctx, entry))

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "rotated", got.APISecret)
	assert.True(t, got.Disabled)
}

func TestConfigEntryRepository_Delete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newEntry("e1", "tok")))

	require.NoError(t, repo.Delete(ctx, "e1"))
	_, err := repo.Get(ctx, "e1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "e1"), repositories.ErrNotFound)
}
