/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * shared by the CLI, the scheduler and the HTTP server.
 */
package di

import (
	"github.com/aristath/gdportfolio/internal/clientdata"
	"github.com/aristath/gdportfolio/internal/clients/yahoo"
	"github.com/aristath/gdportfolio/internal/database"
	"github.com/aristath/gdportfolio/internal/modules/marketdata"
	optimizationhandlers "github.com/aristath/gdportfolio/internal/modules/optimization/handlers"
	"github.com/aristath/gdportfolio/internal/modules/pipeline"
	"github.com/aristath/gdportfolio/internal/modules/reporting"
	"github.com/aristath/gdportfolio/internal/modules/runs"
	"github.com/aristath/gdportfolio/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	CacheDB *database.DB // cache.db - Yahoo history responses
	RunsDB  *database.DB // runs.db - Completed optimization runs

	// Repositories
	ClientDataRepo *clientdata.Repository
	RunRepo        *runs.Repository

	// Clients
	YahooClient *yahoo.Client

	// Services
	MarketDataService *marketdata.Service
	ReportingService  *reporting.Service
	PipelineService   *pipeline.Service

	// HTTP
	OptimizationHandler *optimizationhandlers.Handler

	// Background jobs
	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered jobs for manual triggering via API
type JobInstances struct {
	PortfolioRun        scheduler.Job // nil when no run config is set
	ClientDataCleanup   scheduler.Job
	DatabaseMaintenance scheduler.Job
}

// All returns the non-nil jobs
func (j *JobInstances) All() []scheduler.Job {
	var jobs []scheduler.Job
	if j.PortfolioRun != nil {
		jobs = append(jobs, j.PortfolioRun)
	}
	if j.ClientDataCleanup != nil {
		jobs = append(jobs, j.ClientDataCleanup)
	}
	if j.DatabaseMaintenance != nil {
		jobs = append(jobs, j.DatabaseMaintenance)
	}
	return jobs
}

// Databases returns the open databases
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	if c.CacheDB != nil {
		dbs = append(dbs, c.CacheDB)
	}
	if c.RunsDB != nil {
		dbs = append(dbs, c.RunsDB)
	}
	return dbs
}

// Close closes all databases
func (c *Container) Close() error {
	var firstErr error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
