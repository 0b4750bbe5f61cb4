// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/modules/optimization"
	"github.com/aristath/gdportfolio/internal/modules/runs"
)

// RunStore persists and lists runs
type RunStore interface {
	Create(ctx context.Context, source runs.Source, request interface{}, result *optimization.Result) (*runs.Run, error)
	GetByID(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, limit int) ([]runs.Run, error)
}

// RunRequest is the body of POST /optimization/run and the first message of
// the stream endpoint
type RunRequest struct {
	Assets       []string                `json:"assets"`
	Cov          [][]float64             `json:"cov"`
	Exp          []float64               `json:"exp"`
	Losses       []optimization.LossSpec `json:"losses"`
	Epochs       int                     `json:"epochs,omitempty"`
	LearningRate float64                 `json:"learning_rate,omitempty"`
	ReportEvery  int                     `json:"report_every,omitempty"`
}

// Handler handles optimization HTTP requests
type Handler struct {
	store RunStore
	log   zerolog.Logger
}

// NewHandler creates a new optimization handler. store may be nil, in which
// case runs are not persisted and the history endpoints return 503.
func NewHandler(store RunStore, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "optimization").Logger(),
	}
}

// HandleRun handles POST /api/optimization/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := execute(req, nil)
	if err != nil {
		h.writeError(w, err)
		return
	}

	runID := h.persist(r.Context(), runs.SourceAPI, req, result)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"run_id":    runID,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetLosses handles GET /api/optimization/losses
func (h *Handler) HandleGetLosses(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": optimization.LossHelp(),
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleListRuns handles GET /api/optimization/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "Run history is not available", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	list, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": list,
		"metadata": map[string]interface{}{
			"count":     len(list),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetRun handles GET /api/optimization/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "Run history is not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": run,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// execute builds the model and loss terms from req and runs the optimizer
func execute(req RunRequest, onProgress func(optimization.Progress)) (*optimization.Result, error) {
	model, err := optimization.NewPortfolioModel(req.Cov, req.Exp)
	if err != nil {
		return nil, err
	}

	terms, err := optimization.BuildLossTerms(req.Losses, req.Assets)
	if err != nil {
		return nil, err
	}

	return optimization.Optimize(model, req.Assets, terms, optimization.Options{
		Epochs:       req.Epochs,
		LearningRate: req.LearningRate,
		ReportEvery:  req.ReportEvery,
		OnProgress:   onProgress,
	}, zerolog.Nop())
}

// persist stores the run and returns its ID; failures are logged, not returned
func (h *Handler) persist(ctx context.Context, source runs.Source, req RunRequest, result *optimization.Result) string {
	if h.store == nil {
		return ""
	}
	run, err := h.store.Create(ctx, source, req, result)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to store run")
		return ""
	}
	return run.ID
}

// statusFor maps optimizer errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, optimization.ErrDimensionMismatch),
		errors.Is(err, optimization.ErrUnknownLossType),
		errors.Is(err, optimization.ErrMissingLossParameter),
		errors.Is(err, optimization.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, optimization.ErrNonFiniteObjective):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Optimization failed")
		http.Error(w, "Optimization failed", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
