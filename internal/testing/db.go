// Package testing provides testing utilities and helpers for the gdportfolio project.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/gdportfolio/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a per-test temporary
// directory and applies the embedded schema for name ("cache", "runs").
// Unknown names create an empty database. The returned cleanup function closes
// the connection; it is also registered with t.Cleanup and is safe to call twice.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()
	return newTestDB(t, name, database.ProfileStandard, "")
}

// NewTestDBWithProfile is NewTestDB with an explicit connection profile
func NewTestDBWithProfile(t *testing.T, name string, profile database.DatabaseProfile) (*database.DB, func()) {
	t.Helper()
	return newTestDB(t, name, profile, "")
}

// NewTestDBWithSchema creates a test database and executes schema instead of
// the embedded migration.
func NewTestDBWithSchema(t *testing.T, name string, schema string) (*database.DB, func()) {
	t.Helper()
	return newTestDB(t, name, database.ProfileStandard, schema)
}

func newTestDB(t *testing.T, name string, profile database.DatabaseProfile, schema string) (*database.DB, func()) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
	t.Cleanup(cleanup)

	if schema != "" {
		_, err = db.Conn().Exec(schema)
	} else {
		err = db.Migrate()
	}
	if err != nil {
		cleanup()
		t.Fatalf("Failed to prepare test database %s: %v", name, err)
	}

	return db, cleanup
}
