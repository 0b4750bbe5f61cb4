// Package main is the entry point for gdportfolio, a gradient-descent portfolio
// allocator.
//
// Three modes are supported:
//   - gdportfolio -config_file run.json [-v]: fetch market data, optimize once and write the report
//   - gdportfolio -serve: run the HTTP API and, when GD_SCHEDULE is set, the scheduled pipeline
//   - gdportfolio -list-losses: print the available loss terms
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/config"
	"github.com/aristath/gdportfolio/internal/di"
	"github.com/aristath/gdportfolio/internal/modules/optimization"
	"github.com/aristath/gdportfolio/internal/modules/runs"
	"github.com/aristath/gdportfolio/internal/server"
	"github.com/aristath/gdportfolio/pkg/logger"
)

func main() {
	configFile := flag.String("config_file", "", "path to the run config (JSON or YAML)")
	verbose := flag.Bool("v", false, "enable debug logging")
	serve := flag.Bool("serve", false, "start the HTTP server and scheduler")
	listLosses := flag.Bool("list-losses", false, "print the available loss terms and exit")
	flag.Parse()

	if *listLosses {
		printLossHelp(os.Stdout)
		return
	}

	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{
		Level:  level,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	switch {
	case *serve:
		runServer(cfg, log)
	case *configFile != "":
		if err := runOnce(cfg, *configFile, log); err != nil {
			log.Fatal().Err(err).Msg("Run failed")
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runOnce executes the pipeline for a single run config and prints the result
func runOnce(cfg *config.Config, path string, log zerolog.Logger) error {
	runCfg, err := config.LoadRunConfig(path)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, _, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	outcome, err := container.PipelineService.Run(ctx, runCfg, runs.SourceCLI)
	if err != nil {
		return err
	}

	return printResult(os.Stdout, outcome.Result)
}

// runServer starts the HTTP server and scheduler and blocks until SIGINT or SIGTERM
func runServer(cfg *config.Config, log zerolog.Logger) {
	log.Info().Msg("Starting gdportfolio")

	container, jobs, err := di.Wire(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		DataDir:      cfg.DataDir,
		Databases:    container.Databases(),
		Optimization: container.OptimizationHandler,
		Scheduler:    container.Scheduler,
		Jobs:         jobs.All(),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// printLossHelp writes one block per loss type with its arguments
func printLossHelp(w io.Writer) {
	for _, entry := range optimization.LossHelp() {
		fmt.Fprintf(w, "%s\n    %s\n", entry.Type, entry.Help)

		args := make([]string, 0, len(entry.Args))
		for name := range entry.Args {
			args = append(args, name)
		}
		sort.Strings(args)
		for _, name := range args {
			fmt.Fprintf(w, "    - %s: %s\n", name, entry.Args[name])
		}
	}
}

// printResult writes the final result as indented JSON
func printResult(w io.Writer, result *optimization.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(result)
}
