// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process configuration
type Config struct {
	DataDir       string // Base directory for the databases (always absolute)
	LogLevel      string
	Port          int
	DevMode       bool
	Schedule      string // Cron expression for scheduled runs; empty disables the scheduler
	RunConfigPath string // Run config used by scheduled runs
	YahooBaseURL  string
	S3            S3Config
}

// S3Config configures the optional report upload sink
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether reports should be uploaded
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("GD_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("GD_PORT", 8001),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		Schedule:      getEnv("GD_SCHEDULE", ""),
		RunConfigPath: getEnv("GD_RUN_CONFIG", ""),
		YahooBaseURL:  getEnv("GD_YAHOO_BASE_URL", ""),
		S3: S3Config{
			Bucket:          getEnv("GD_S3_BUCKET", ""),
			Prefix:          getEnv("GD_S3_PREFIX", "gdportfolio"),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Schedule != "" && c.RunConfigPath == "" {
		return fmt.Errorf("GD_SCHEDULE is set but GD_RUN_CONFIG is empty")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
