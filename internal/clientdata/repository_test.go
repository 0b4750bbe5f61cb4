package clientdata

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const testSchema = `
CREATE TABLE yahoo_history (cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, updated_at INTEGER NOT NULL);
CREATE INDEX idx_yahoo_history_expires ON yahoo_history(expires_at);
`

type testHistory struct {
	Symbol string
	Opens  []float64
	Dates  []time.Time
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

func sampleHistory() testHistory {
	return testHistory{
		Symbol: "VTI",
		Opens:  []float64{200.5, 210.25, 205},
		Dates: []time.Time{
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestStore(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableYahooHistory, "VTI|5y|1mo", sampleHistory(), TTLYahooHistory))

	var blob []byte
	var expiresAt, updatedAt int64
	err := db.QueryRow("SELECT data, expires_at, updated_at FROM yahoo_history WHERE cache_key = ?", "VTI|5y|1mo").
		Scan(&blob, &expiresAt, &updatedAt)
	require.NoError(t, err)

	var decoded testHistory
	require.NoError(t, msgpack.Unmarshal(blob, &decoded))
	assert.Equal(t, "VTI", decoded.Symbol)
	assert.Equal(t, []float64{200.5, 210.25, 205}, decoded.Opens)

	assert.InDelta(t, TTLYahooHistory.Seconds(), float64(expiresAt-updatedAt), 1)
}

func TestStoreUpsert(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	first := sampleHistory()
	require.NoError(t, repo.Store(TableYahooHistory, "VTI", first, time.Hour))

	second := sampleHistory()
	second.Opens = []float64{1, 2}
	require.NoError(t, repo.Store(TableYahooHistory, "VTI", second, time.Hour))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM yahoo_history").Scan(&count))
	assert.Equal(t, 1, count)

	var got testHistory
	found, err := repo.Get(TableYahooHistory, "VTI", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{1, 2}, got.Opens)
}

func TestGetIfFresh_Fresh(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableYahooHistory, "VTI", sampleHistory(), time.Hour))

	var got testHistory
	found, err := repo.GetIfFresh(TableYahooHistory, "VTI", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sampleHistory().Opens, got.Opens)
	assert.True(t, got.Dates[1].Equal(sampleHistory().Dates[1]))
}

func TestGetIfFresh_Expired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableYahooHistory, "VTI", sampleHistory(), -time.Hour))

	var got testHistory
	found, err := repo.GetIfFresh(TableYahooHistory, "VTI", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGet_ReturnsStaleData(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableYahooHistory, "VTI", sampleHistory(), -time.Hour))

	var got testHistory
	found, err := repo.Get(TableYahooHistory, "VTI", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "VTI", got.Symbol)
}

func TestGet_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	var got testHistory
	found, err := repo.Get(TableYahooHistory, "NOPE", &got)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = repo.GetIfFresh(TableYahooHistory, "NOPE", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidTable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	assert.Error(t, repo.Store("yahoo_history; DROP TABLE x", "k", 1, time.Hour))
	_, err := repo.Get("unknown", "k", new(int))
	assert.Error(t, err)
	_, err = repo.DeleteExpired("unknown")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableYahooHistory, "VTI", sampleHistory(), time.Hour))
	require.NoError(t, repo.Delete(TableYahooHistory, "VTI"))

	var got testHistory
	found, err := repo.Get(TableYahooHistory, "VTI", &got)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing key is not an error
	assert.NoError(t, repo.Delete(TableYahooHistory, "VTI"))
}

func TestDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableYahooHistory, "OLD1", sampleHistory(), -time.Hour))
	require.NoError(t, repo.Store(TableYahooHistory, "OLD2", sampleHistory(), -2*time.Hour))
	require.NoError(t, repo.Store(TableYahooHistory, "NEW", sampleHistory(), time.Hour))

	deleted, err := repo.DeleteExpired(TableYahooHistory)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM yahoo_history").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStoreRespectsClock(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	require.NoError(t, repo.Store(TableYahooHistory, "VTI", sampleHistory(), time.Hour))

	var expiresAt int64
	require.NoError(t, db.QueryRow("SELECT expires_at FROM yahoo_history WHERE cache_key = ?", "VTI").Scan(&expiresAt))
	assert.Equal(t, fixed.Add(time.Hour).Unix(), expiresAt)

	// With the real clock the entry is long expired
	repo.now = time.Now
	var got testHistory
	found, err := repo.GetIfFresh(TableYahooHistory, "VTI", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
