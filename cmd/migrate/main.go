// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"fmt"

	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		path   = flag.String("path", "", "Migrations directory (default: MIGRATIONS_PATH)")
	)
	flag.Parse()

	logging.InitGlobalLogger(logging.LevelInfo, logging.FormatText)
	logger := logging.GetGlobalLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	migrationsPath := cfg.Database.MigrationsPath
	if *path != "" {
		migrationsPath = *path
	}

	if err := runPostgresMigrations(cfg.Database.Postgres.URL(), migrationsPath, *action, logger); err != nil {
		logger.WithError(err).Fatal("Postgres migration failed")
	}
}

func runPostgresMigrations(databaseURL, migrationsPath, action string, logger *logging.Logger) error {
	switch action {
	case "up":
		logger.Info("Running Postgres migrations...")
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		logger.Info("Postgres migrations completed successfully")

	case "down":
		logger.Info("Rolling back Postgres migration...")
		if err := storage.RollbackMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		logger.Info("Postgres migration rolled back successfully")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, migrationsPath)
		if err != nil {
			return err
		}
		logger.Infof("Current Postgres migration version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
