package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/config"
	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	fsys, err := db.Migrations(cfg.DBDriver)
	if err != nil {
		return err
	}

	var applied, skipped int
	switch cfg.DBDriver {
	case db.DriverPostgres:
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
			MaxConns: 2,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		applied, skipped, err = db.Migrate(ctx, database.SQL(), cfg.DBDriver, fsys, logger)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	default:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer sqlDB.Close()
		applied, skipped, err = db.Migrate(ctx, sqlDB, cfg.DBDriver, fsys, logger)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	logger.Info("migrations complete",
		zap.String("db_driver", cfg.DBDriver),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
	)
	return nil
}
