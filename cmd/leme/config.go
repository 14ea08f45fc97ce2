package main

import (
	"fmt"
	"os"

	"github.com/lememe/leme/config"
	"github.com/lememe/leme/db"
	"github.com/lememe/leme/logger"
	"github.com/lememe/leme/pkg/errors"
)

const defaultConfigPath = "leme.toml"

// loadAndValidateConfig loads the TOML file, overlays the environment and
// validates the result. Any failure exits the process.
func loadAndValidateConfig(configPath string, cfg *config.Config, errorHandler *errors.ErrorHandler) {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if os.IsNotExist(err) && configPath == defaultConfigPath {
			// Running from environment variables alone is the usual deployment.
			logger.Info("Default configuration file not found, using defaults and environment", "path", configPath)
		} else {
			errorHandler.ConfigError(configPath, err)
			os.Exit(errorHandler.WaitForExit())
		}
	} else {
		logger.Info("Loaded configuration", "path", configPath)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		errorHandler.ValidationError("environment", err)
		os.Exit(errorHandler.WaitForExit())
	}

	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("configuration", err)
		os.Exit(errorHandler.WaitForExit())
	}
}

// newConnector returns the connector for the configured driver.
func newConnector(cfg config.DatabaseConfig) (db.Connector, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return db.NewPgxConnector(cfg), nil
	case config.DriverSQLite:
		return db.NewSQLiteConnector(cfg), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
