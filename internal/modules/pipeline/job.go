package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/config"
	"github.com/aristath/gdportfolio/internal/modules/runs"
)

// Job runs the pipeline on a schedule. The run config is re-read on every
// run so edits take effect without a restart.
type Job struct {
	service    *Service
	configPath string
	timeout    time.Duration
	log        zerolog.Logger
}

// NewJob creates a scheduled pipeline job
func NewJob(service *Service, configPath string, log zerolog.Logger) *Job {
	return &Job{
		service:    service,
		configPath: configPath,
		timeout:    30 * time.Minute,
		log:        log.With().Str("job", "gd_portfolio_run").Logger(),
	}
}

// Run loads the run config and executes it
func (j *Job) Run() error {
	cfg, err := config.LoadRunConfig(j.configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	outcome, err := j.service.Run(ctx, cfg, runs.SourceScheduler)
	if err != nil {
		return err
	}

	j.log.Info().Str("run_id", outcome.RunID).Msg("Scheduled run finished")
	return nil
}

// Name returns the job name for scheduling and logging
func (j *Job) Name() string {
	return "gd_portfolio_run"
}
