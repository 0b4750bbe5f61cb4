// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/clientdata"
	"github.com/aristath/gdportfolio/internal/config"
	"github.com/aristath/gdportfolio/internal/modules/pipeline"
	"github.com/aristath/gdportfolio/internal/reliability"
)

// Maintenance schedules
const (
	CleanupSchedule     = "0 0 3 * * *"   // cache cleanup, daily at 03:00
	MaintenanceSchedule = "0 0 4 * * SUN" // integrity check and VACUUM, Sundays at 04:00
)

// RegisterJobs creates the background jobs and registers them with the scheduler.
// The portfolio run is only scheduled when both a schedule and a run config are set.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{}

	cleanup := clientdata.NewCleanupJob(container.ClientDataRepo, log)
	if err := container.Scheduler.AddJob(CleanupSchedule, cleanup); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", cleanup.Name(), err)
	}
	instances.ClientDataCleanup = cleanup

	maintenance := reliability.NewMaintenanceJob(container.Databases(), cfg.DataDir, log)
	if err := container.Scheduler.AddJob(MaintenanceSchedule, maintenance); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", maintenance.Name(), err)
	}
	instances.DatabaseMaintenance = maintenance

	if cfg.RunConfigPath != "" {
		run := pipeline.NewJob(container.PipelineService, cfg.RunConfigPath, log)
		if cfg.Schedule != "" {
			if err := container.Scheduler.AddJob(cfg.Schedule, run); err != nil {
				return nil, fmt.Errorf("failed to register %s: %w", run.Name(), err)
			}
		}
		instances.PortfolioRun = run
	}

	log.Info().
		Int("scheduled", container.Scheduler.JobCount()).
		Msg("Jobs registered")

	return instances, nil
}
