package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"survbatch/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Fitting  FittingConfig
	Paths    PathConfig
	Database DatabaseConfig
	LogLevel string
}

// FittingConfig holds batch-fitting defaults
type FittingConfig struct {
	BatchSize       int     // candidates per parallel work unit
	MinCompleteRows int     // minimum complete rows per fit
	ConfidenceLevel float64 // CI coverage
	Parallel        bool    // default execution mode for the CLI
}

// PathConfig holds file system paths
type PathConfig struct {
	ModelStoreRoot string // root directory for persisted models
	OutputDir      string // default directory for exported result tables
}

// DatabaseConfig holds the optional result-repository connection.
// Empty URL disables persistence entirely.
type DatabaseConfig struct {
	URL string
}

// Load reads configuration from environment variables, consulting a local
// .env file when present, and validates it once.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	config := &Config{
		Fitting: FittingConfig{
			BatchSize:       getEnvIntOrDefault("BATCH_SIZE", 25),
			MinCompleteRows: getEnvIntOrDefault("MIN_COMPLETE_ROWS", 10),
			ConfidenceLevel: getEnvFloatOrDefault("CONFIDENCE_LEVEL", 0.95),
			Parallel:        getEnvBoolOrDefault("PARALLEL", false),
		},
		Paths: PathConfig{
			ModelStoreRoot: getEnvOrDefault("MODEL_STORE_ROOT", "./models"),
			OutputDir:      getEnvOrDefault("OUTPUT_DIR", "."),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validate(config); err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	return config, nil
}

func validate(config *Config) error {
	if config.Fitting.BatchSize < 1 {
		return errors.ConfigInvalid("BATCH_SIZE must be positive")
	}
	if config.Fitting.MinCompleteRows < 3 {
		return errors.ConfigInvalid("MIN_COMPLETE_ROWS must be at least 3")
	}
	if config.Fitting.ConfidenceLevel <= 0 || config.Fitting.ConfidenceLevel >= 1 {
		return errors.ConfigInvalid("CONFIDENCE_LEVEL must be in (0,1)")
	}
	if config.Paths.ModelStoreRoot == "" {
		return errors.ConfigInvalid("MODEL_STORE_ROOT must not be empty")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
