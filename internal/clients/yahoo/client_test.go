package yahoo

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/gdportfolio/internal/clientdata"
)

// Three monthly bars (2024-01-01, 2024-02-01, 2024-03-01), one missing open
// and a dividend paid mid-February.
const chartBody = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "VTI"},
      "timestamp": [1704067200, 1706745600, 1709251200, 1711929600],
      "events": {"dividends": {"1708214400": {"amount": 0.85, "date": 1708214400}}},
      "indicators": {"quote": [{"open": [220.5, 236.1, null, 250.2]}]}
    }],
    "error": null
  }
}`

func setupCache(t *testing.T) *clientdata.Repository {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE yahoo_history (cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`)
	require.NoError(t, err)

	return clientdata.NewRepository(db)
}

func TestGetHistory_ParsesChart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/VTI", r.URL.Path)
		assert.Equal(t, "5y", r.URL.Query().Get("range"))
		assert.Equal(t, "1mo", r.URL.Query().Get("interval"))
		assert.Equal(t, "div", r.URL.Query().Get("events"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(chartBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, zerolog.Nop())
	bars, err := client.GetHistory(context.Background(), "VTI", "5y", "1mo")
	require.NoError(t, err)

	require.Len(t, bars, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, 220.5, bars[0].Open)
	assert.Equal(t, 0.0, bars[0].Dividend)
	assert.Equal(t, 0.85, bars[1].Dividend)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), bars[2].Date)
}

func TestGetHistory_UsesFreshCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(chartBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, setupCache(t), zerolog.Nop())

	first, err := client.GetHistory(context.Background(), "VTI", "5y", "1mo")
	require.NoError(t, err)
	second, err := client.GetHistory(context.Background(), "VTI", "5y", "1mo")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Date.Equal(second[i].Date))
		assert.Equal(t, first[i].Open, second[i].Open)
		assert.Equal(t, first[i].Dividend, second[i].Dividend)
	}

	// A different interval is a different cache entry
	_, err = client.GetHistory(context.Background(), "VTI", "5y", "1wk")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetHistory_FallsBackToStaleCache(t *testing.T) {
	cache := setupCache(t)
	stale := []Bar{
		{Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), Open: 10},
		{Date: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), Open: 11},
	}
	require.NoError(t, cache.Store(clientdata.TableYahooHistory, "VTI|5y|1mo", stale, -time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, cache, zerolog.Nop())
	bars, err := client.GetHistory(context.Background(), "VTI", "5y", "1mo")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 11.0, bars[1].Open)
}

func TestGetHistory_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}}}`},
		{"server error", http.StatusBadGateway, `bad gateway`},
		{"malformed", http.StatusOK, `{"chart": `},
		{"empty result", http.StatusOK, `{"chart": {"result": [], "error": null}}`},
		{"length mismatch", http.StatusOK, `{"chart": {"result": [{"timestamp": [1, 2], "indicators": {"quote": [{"open": [1.0]}]}}]}}`},
		{"no quote", http.StatusOK, `{"chart": {"result": [{"timestamp": [1], "indicators": {"quote": []}}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, zerolog.Nop())
			_, err := client.GetHistory(context.Background(), "ZZZZ", "5y", "1mo")
			assert.Error(t, err)
		})
	}
}

func TestGetHistory_RespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chartBody))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, nil, zerolog.Nop())
	_, err := client.GetHistory(ctx, "VTI", "5y", "1mo")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	client := NewClient("", nil, zerolog.Nop())
	assert.Equal(t, DefaultBaseURL, client.baseURL)
}
