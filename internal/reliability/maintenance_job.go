// Package reliability keeps the local databases healthy.
package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/gdportfolio/internal/database"
)

// DefaultMinFreeBytes is the free space below which maintenance fails (500MB)
const DefaultMinFreeBytes = 500 * 1024 * 1024

// MaintenanceJob performs weekly database maintenance:
// integrity check, WAL checkpoint, VACUUM of cache databases and a disk space check.
type MaintenanceJob struct {
	databases    []*database.DB
	dataDir      string
	minFreeBytes uint64
	log          zerolog.Logger

	// diskFree is swapped in tests
	diskFree func(path string) (uint64, error)
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(databases []*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases:    databases,
		dataDir:      dataDir,
		minFreeBytes: DefaultMinFreeBytes,
		log:          log.With().Str("job", "database_maintenance").Logger(),
		diskFree:     freeBytes,
	}
}

// Run executes the maintenance job. A failed integrity check or insufficient
// disk space fails the run; checkpoint and VACUUM errors are only logged.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	for _, db := range j.databases {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.HealthCheck(ctx)
		cancel()
		if err != nil {
			j.log.Error().
				Str("database", db.Name()).
				Err(err).
				Msg("Database integrity check failed")
			return err
		}

		if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Warn().
				Str("database", db.Name()).
				Err(err).
				Msg("WAL checkpoint failed")
		}

		if db.Profile() == database.ProfileCache {
			if err := j.vacuumDatabase(db); err != nil {
				j.log.Error().
					Str("database", db.Name()).
					Err(err).
					Msg("VACUUM failed")
			}
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Database maintenance completed successfully")

	return nil
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// vacuumDatabase performs VACUUM on a database and logs the reclaimed space
func (j *MaintenanceJob) vacuumDatabase(db *database.DB) error {
	sizeBefore := databaseSizeMB(db)

	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	sizeAfter := databaseSizeMB(db)
	j.log.Info().
		Str("database", db.Name()).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")

	return nil
}

// checkDiskSpace verifies sufficient disk space is available in the data directory
func (j *MaintenanceJob) checkDiskSpace() error {
	free, err := j.diskFree(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if free < j.minFreeBytes {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	}

	return nil
}

func databaseSizeMB(db *database.DB) float64 {
	var pageCount, pageSize int
	_ = db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	_ = db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize)
	return float64(pageCount*pageSize) / 1024 / 1024
}

func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
