package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/clientdata"
	"github.com/aristath/gdportfolio/internal/clients/yahoo"
	"github.com/aristath/gdportfolio/internal/config"
	"github.com/aristath/gdportfolio/internal/modules/marketdata"
	optimizationhandlers "github.com/aristath/gdportfolio/internal/modules/optimization/handlers"
	"github.com/aristath/gdportfolio/internal/modules/pipeline"
	"github.com/aristath/gdportfolio/internal/modules/reporting"
	"github.com/aristath/gdportfolio/internal/modules/runs"
	"github.com/aristath/gdportfolio/internal/scheduler"
)

// InitializeServices builds repositories, clients and services on top of the
// open databases
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Repositories
	container.ClientDataRepo = clientdata.NewRepository(container.CacheDB.Conn())
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn(), log)

	// Clients
	container.YahooClient = yahoo.NewClient(cfg.YahooBaseURL, container.ClientDataRepo, log)

	// Services
	container.MarketDataService = marketdata.NewService(container.YahooClient, log)

	var sinks []reporting.Sink
	if cfg.S3.Enabled() {
		sink, err := reporting.NewS3SinkFromConfig(ctx, reporting.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	container.ReportingService = reporting.NewService(log, sinks...)

	container.PipelineService = pipeline.NewService(
		container.MarketDataService,
		container.RunRepo,
		container.ReportingService,
		log,
	)

	// HTTP handlers
	container.OptimizationHandler = optimizationhandlers.NewHandler(container.RunRepo, log)

	container.Scheduler = scheduler.New(log)

	log.Info().
		Bool("s3_enabled", cfg.S3.Enabled()).
		Msg("Services initialized")

	return nil
}
