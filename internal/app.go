// Package internal assembles the leadflow server: database, services,
// background jobs and routes.
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"leadflow/app"
	"leadflow/internal/config"
	"leadflow/internal/database"
	"leadflow/internal/jobs"
)

// Application wraps cartridge.Application with leadflow-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Service   *app.Service
	Scheduler *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config. The
// schema is migrated before services are built because they read settings.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	svc, err := app.New(cfg, dbManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	scheduler, err := jobs.NewScheduler(logger, svc.Rollup, svc.Ledger, jobs.Options{
		RollupSpec:    cfg.RollupCronSpec,
		ReconcileSpec: cfg.ReconcileCronSpec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	application, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		ServerConfig:      NewServerConfig(),
		RouteMountFunc:    MountAppRoutes(cfg, svc),
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler, svc},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: application,
		DBManager:   dbManager,
		Service:     svc,
		Scheduler:   scheduler,
	}, nil
}

// NewServerConfig returns the HTTP server settings. leadflow serves JSON only,
// so static assets and templates are off. Sec-Fetch-Site checks are attached
// per route: the public endpoints require a browser header, while admin
// clients are scripts authenticated by API key and send none.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableStaticAssets = false
	cfg.EnableTemplates = false
	cfg.EnableSecFetchSite = false
	return cfg
}
