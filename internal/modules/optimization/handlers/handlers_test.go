package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/gdportfolio/internal/modules/optimization"
	"github.com/aristath/gdportfolio/internal/modules/runs"
	testingpkg "github.com/aristath/gdportfolio/internal/testing"
)

var testLog = zerolog.New(nil).Level(zerolog.Disabled)

func setupRouter(t *testing.T) (*chi.Mux, *runs.Repository) {
	t.Helper()
	db, _ := testingpkg.NewTestDB(t, "runs")
	repo := runs.NewRepository(db.Conn(), testLog)
	router := chi.NewRouter()
	NewHandler(repo, testLog).RegisterRoutes(router)
	return router, repo
}

func validRequest() RunRequest {
	f := testingpkg.NewTwoAssetFixture()
	return RunRequest{
		Assets: f.Assets,
		Cov:    f.Cov,
		Exp:    f.Exp,
		Losses: []optimization.LossSpec{{Type: "var"}},
	}
}

func post(t *testing.T, router http.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, "/optimization/run", &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type runResponse struct {
	Data     optimization.Result `json:"data"`
	Metadata struct {
		RunID     string `json:"run_id"`
		Timestamp string `json:"timestamp"`
	} `json:"metadata"`
}

func TestHandleRun(t *testing.T) {
	router, _ := setupRouter(t)

	rec := post(t, router, validRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 2.0/7.0, resp.Data.Allocations["A"], 1e-4)
	assert.InDelta(t, 5.0/7.0, resp.Data.Allocations["B"], 1e-4)
	assert.NotEmpty(t, resp.Metadata.RunID)
	assert.NotEmpty(t, resp.Metadata.Timestamp)

	// The run is retrievable
	getReq := httptest.NewRequest(http.MethodGet, "/optimization/runs/"+resp.Metadata.RunID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var got struct {
		Data runs.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
	assert.Equal(t, resp.Metadata.RunID, got.Data.ID)
	assert.Equal(t, runs.SourceAPI, got.Data.Source)
	assert.Equal(t, resp.Data.Allocations, got.Data.Result.Allocations)
}

func TestHandleRun_ErrorStatuses(t *testing.T) {
	router, _ := setupRouter(t)

	nonFinite := validRequest()
	nonFinite.Exp = []float64{0.05, 1e308}
	nonFinite.Losses = []optimization.LossSpec{{Type: "exp_l2", TargetExp: new(float64), Multiplier: func() *float64 { v := 1e308; return &v }()}}

	mismatch := validRequest()
	mismatch.Cov = [][]float64{{0.4}}

	unknown := validRequest()
	unknown.Losses = []optimization.LossSpec{{Type: "sharpe"}}

	missing := validRequest()
	missing.Losses = []optimization.LossSpec{{Type: "group", Target: new(float64)}}

	badLR := validRequest()
	badLR.LearningRate = -1

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"malformed body", `{"assets": [`, http.StatusBadRequest},
		{"dimension mismatch", mismatch, http.StatusBadRequest},
		{"unknown loss", unknown, http.StatusBadRequest},
		{"missing loss parameter", missing, http.StatusBadRequest},
		{"invalid learning rate", badLR, http.StatusBadRequest},
		{"non-finite objective", nonFinite, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, router, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleGetLosses(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/optimization/losses", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []optimization.LossHelpEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, len(optimization.LossKinds))
	assert.Equal(t, optimization.LossGroupProportion, resp.Data[3].Type)
}

func TestHandleListRuns(t *testing.T) {
	router, _ := setupRouter(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, post(t, router, validRequest()).Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/optimization/runs?limit=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data     []runs.Run             `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, float64(2), resp.Metadata["count"])

	req = httptest.NewRequest(http.MethodGet, "/optimization/runs?limit=abc", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/optimization/runs/0b6f2d5e-7f0e-4c55-9a43-6a3cbdb8f111", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryWithoutStore(t *testing.T) {
	router := chi.NewRouter()
	NewHandler(nil, testLog).RegisterRoutes(router)

	rec := post(t, router, validRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Metadata.RunID)

	req := httptest.NewRequest(http.MethodGet, "/optimization/runs", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, req)
	assert.Equal(t, http.StatusServiceUnavailable, listRec.Code)
}

func dialStream(t *testing.T, router http.Handler) (*websocket.Conn, context.Context) {
	t.Helper()
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/optimization/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func TestHandleStream(t *testing.T) {
	router, repo := setupRouter(t)
	conn, ctx := dialStream(t, router)

	req := validRequest()
	req.Epochs = 50
	req.ReportEvery = 10
	require.NoError(t, wsjson.Write(ctx, conn, req))

	var progress []StreamMessage
	var final StreamMessage
	for {
		var msg StreamMessage
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type != MessageProgress {
			final = msg
			break
		}
		progress = append(progress, msg)
	}

	require.Len(t, progress, 5)
	for i, msg := range progress {
		require.NotNil(t, msg.Progress)
		assert.Equal(t, (i+1)*10, msg.Progress.Epoch)
		assert.Equal(t, 50, msg.Progress.Epochs)
		assert.Len(t, msg.Progress.Allocations, 2)
	}

	require.Equal(t, MessageResult, final.Type)
	require.NotNil(t, final.Data)
	assert.InDelta(t, 1.0, final.Data.Allocations["A"]+final.Data.Allocations["B"], 1e-9)
	assert.InDeltaSlice(t, progress[4].Progress.Allocations, final.Data.Weights(), 1e-12)

	stored, err := repo.GetByID(ctx, final.RunID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, runs.SourceStream, stored.Source)
}

func TestHandleStream_ReportsErrors(t *testing.T) {
	router, _ := setupRouter(t)
	conn, ctx := dialStream(t, router)

	req := validRequest()
	req.Losses = []optimization.LossSpec{{Type: "sharpe"}}
	require.NoError(t, wsjson.Write(ctx, conn, req))

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, http.StatusBadRequest, msg.Status)
	assert.Contains(t, msg.Error, "sharpe")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(optimization.ErrDimensionMismatch))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(optimization.ErrNonFiniteObjective))
	assert.Equal(t, http.StatusInternalServerError, statusFor(optimization.ErrNotConverged))
}
