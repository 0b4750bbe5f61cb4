// Package runs provides persistence for completed optimization runs.
// Each run stores the request that produced it and the resulting allocation
// in runs.db so results can be listed and fetched after the fact.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/modules/optimization"
)

// Source identifies what triggered a run
type Source string

const (
	SourceAPI       Source = "api"
	SourceStream    Source = "stream"
	SourceCLI       Source = "cli"
	SourceScheduler Source = "scheduler"
)

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50

// Run is a stored optimization run
type Run struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Source    Source               `json:"source"`
	Request   json.RawMessage      `json:"request"`
	Result    *optimization.Result `json:"result"`
}

// Repository handles run history database operations.
// Database: runs.db (runs table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRepository creates a new run history repository.
//
// Parameters:
//   - db: Database connection to runs.db
//   - log: Structured logger
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "runs").Logger(),
		now: time.Now,
	}
}

// Create stores a completed run under a new identifier.
//
// Parameters:
//   - ctx: Request context
//   - source: What triggered the run
//   - request: The request or run config, serialized as JSON
//   - result: The optimizer result
//
// Returns:
//   - *Run: The stored run including its generated ID
//   - error: Error if serialization or the insert fails
func (r *Repository) Create(ctx context.Context, source Source, request interface{}, result *optimization.Result) (*Run, error) {
	if result == nil {
		return nil, fmt.Errorf("cannot store run without result")
	}

	requestJSON, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run result: %w", err)
	}

	run := &Run{
		ID:        uuid.New().String(),
		CreatedAt: r.now().UTC().Truncate(time.Second),
		Source:    source,
		Request:   requestJSON,
		Result:    result,
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO runs (id, created_at, source, request, result) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.CreatedAt.Unix(), string(run.Source), string(requestJSON), string(resultJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	r.log.Debug().Str("run_id", run.ID).Str("source", string(source)).Msg("Stored run")
	return run, nil
}

// GetByID retrieves a run by identifier.
// Returns nil if the run doesn't exist (not an error).
func (r *Repository) GetByID(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx, "SELECT id, created_at, source, request, result FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// List returns the most recent runs, newest first.
// A non-positive limit uses DefaultListLimit.
func (r *Repository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, created_at, source, request, result FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run        Run
		createdAt  int64
		source     string
		request    string
		resultJSON string
	)
	if err := s.Scan(&run.ID, &createdAt, &source, &request, &resultJSON); err != nil {
		return nil, err
	}

	var result optimization.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result of run %s: %w", run.ID, err)
	}

	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.Source = Source(source)
	run.Request = json.RawMessage(request)
	run.Result = &result
	return &run, nil
}
