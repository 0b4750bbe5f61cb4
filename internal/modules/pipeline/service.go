// Package pipeline runs a configured optimization end to end: market data,
// model, optimizer, run history and report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/config"
	"github.com/aristath/gdportfolio/internal/modules/marketdata"
	"github.com/aristath/gdportfolio/internal/modules/optimization"
	"github.com/aristath/gdportfolio/internal/modules/reporting"
	"github.com/aristath/gdportfolio/internal/modules/runs"
	"github.com/aristath/gdportfolio/internal/utils"
)

// InputsProvider assembles optimizer inputs
type InputsProvider interface {
	Inputs(ctx context.Context, req marketdata.Request) (*marketdata.Inputs, error)
}

// RunStore persists completed runs
type RunStore interface {
	Create(ctx context.Context, source runs.Source, request interface{}, result *optimization.Result) (*runs.Run, error)
}

// Publisher writes reports
type Publisher interface {
	Publish(ctx context.Context, outputPath string, report reporting.Report) error
}

// Outcome is the result of one pipeline run
type Outcome struct {
	RunID    string
	Inputs   *marketdata.Inputs
	Result   *optimization.Result
	Duration time.Duration
}

// Service runs the pipeline
type Service struct {
	inputs    InputsProvider
	store     RunStore
	publisher Publisher
	log       zerolog.Logger
}

// NewService creates a pipeline service. store and publisher may be nil.
func NewService(inputs InputsProvider, store RunStore, publisher Publisher, log zerolog.Logger) *Service {
	return &Service{
		inputs:    inputs,
		store:     store,
		publisher: publisher,
		log:       log.With().Str("service", "pipeline").Logger(),
	}
}

// Run executes cfg: it downloads and aligns market data, optimizes, stores
// the run and publishes the report under cfg.OutputPath.
func (s *Service) Run(ctx context.Context, cfg *config.RunConfig, source runs.Source) (*Outcome, error) {
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	stop := utils.OperationTimer("fetch_inputs", s.log)
	inputs, err := s.inputs.Inputs(ctx, marketdata.Request{
		Tickers:    cfg.Tickers,
		FixedRates: fixedRates(cfg.FixedRates),
		Period:     cfg.Period,
		Interval:   cfg.Interval,
		DropNA:     cfg.DropMissing(),
	})
	stop()
	if err != nil {
		return nil, fmt.Errorf("failed to assemble inputs: %w", err)
	}

	model, err := optimization.NewPortfolioModel(inputs.Cov, inputs.Exp)
	if err != nil {
		return nil, err
	}
	terms, err := optimization.BuildLossTerms(cfg.GD.Losses, inputs.Assets)
	if err != nil {
		return nil, err
	}

	stop = utils.OperationTimer("optimize", s.log)
	result, err := optimization.Optimize(model, inputs.Assets, terms, cfg.GD.Options(), s.log)
	stop()
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Inputs: inputs, Result: result}

	if s.store != nil {
		run, err := s.store.Create(ctx, source, cfg, result)
		if err != nil {
			return nil, fmt.Errorf("failed to store run: %w", err)
		}
		outcome.RunID = run.ID
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, cfg.OutputPath, reporting.Report{
			RunID:  outcome.RunID,
			Config: cfg,
			Result: result,
			Inputs: inputs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to publish report: %w", err)
		}
	}

	outcome.Duration = time.Since(start)
	s.log.Info().
		Str("run_id", outcome.RunID).
		Str("source", string(source)).
		Int("assets", len(inputs.Assets)).
		Float64("expected", result.ExpectedValue).
		Float64("variance", result.Variance).
		Dur("duration", outcome.Duration).
		Msg("Pipeline run completed")

	return outcome, nil
}

func fixedRates(in []config.FixedRate) []marketdata.FixedRate {
	out := make([]marketdata.FixedRate, len(in))
	for i, fr := range in {
		out[i] = marketdata.FixedRate{Label: fr.Label, Rate: fr.Rate, Months: fr.Months}
	}
	return out
}
