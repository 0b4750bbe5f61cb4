package reliability

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/gdportfolio/internal/database"
	testingpkg "github.com/aristath/gdportfolio/internal/testing"
)

func TestMaintenanceJob_Run(t *testing.T) {
	dir := t.TempDir()
	cache, _ := testingpkg.NewTestDBWithProfile(t, "cache", database.ProfileCache)
	runs, _ := testingpkg.NewTestDB(t, "runs")

	// Leave some free pages behind for VACUUM
	_, err := cache.Conn().Exec(
		`INSERT INTO yahoo_history (cache_key, data, expires_at, updated_at) VALUES ('k', randomblob(65536), 0, 0)`,
	)
	require.NoError(t, err)
	_, err = cache.Conn().Exec(`DELETE FROM yahoo_history`)
	require.NoError(t, err)

	job := NewMaintenanceJob([]*database.DB{cache, runs}, dir, zerolog.Nop())
	job.diskFree = func(string) (uint64, error) { return 10 << 30, nil }

	require.NoError(t, job.Run())
	assert.Equal(t, "database_maintenance", job.Name())

	// Databases stay usable
	assert.NoError(t, cache.HealthCheck(context.Background()))
	assert.NoError(t, runs.HealthCheck(context.Background()))
}

func TestMaintenanceJob_LowDiskSpace(t *testing.T) {
	dir := t.TempDir()
	runs, _ := testingpkg.NewTestDB(t, "runs")

	job := NewMaintenanceJob([]*database.DB{runs}, dir, zerolog.Nop())
	job.diskFree = func(string) (uint64, error) { return 1024, nil }

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GB free")
}

func TestMaintenanceJob_DiskStatFailure(t *testing.T) {
	job := NewMaintenanceJob(nil, t.TempDir(), zerolog.Nop())
	job.diskFree = func(string) (uint64, error) { return 0, errors.New("no such filesystem") }

	assert.ErrorContains(t, job.Run(), "no such filesystem")
}

func TestMaintenanceJob_ClosedDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New(database.Config{Path: filepath.Join(dir, "runs.db"), Name: "runs"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	job := NewMaintenanceJob([]*database.DB{db}, dir, zerolog.Nop())
	job.diskFree = func(string) (uint64, error) { return 10 << 30, nil }

	assert.Error(t, job.Run())
}

func TestFreeBytes(t *testing.T) {
	free, err := freeBytes(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}
