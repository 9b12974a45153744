package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finly-app/finly/internal/domain/import/ai"
	importhandler "github.com/finly-app/finly/internal/domain/import/handler"
	importrepo "github.com/finly-app/finly/internal/domain/import/repository"
	importservice "github.com/finly-app/finly/internal/domain/import/service"
	"github.com/finly-app/finly/pkg/config"
	"github.com/finly-app/finly/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo importrepo.ImportRepository

	// Services
	AIClassifier  ai.Classifier
	ImportService *importservice.ImportService

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices(ctx context.Context) error {
	if d.Config.AI.APIKey == "" {
		d.Logger.Warn("ANTHROPIC_API_KEY not set; sessions that need the classification fallback will fail")
		d.AIClassifier = ai.Disabled{}
	} else {
		classifier, err := ai.NewAnthropicClassifier(ai.Config{
			APIKey:            d.Config.AI.APIKey,
			Model:             d.Config.AI.Model,
			MaxTokens:         d.Config.AI.MaxTokens,
			RequestsPerMinute: d.Config.AI.RequestsPerMinute,
		}, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to init ai classifier: %w", err)
		}
		d.AIClassifier = classifier
	}

	d.ImportService = importservice.NewImportService(d.ImportRepo, d.AIClassifier, importservice.Config{
		Workers:      d.Config.Import.Workers,
		QueueSize:    d.Config.Import.QueueSize,
		AIBatchSize:  d.Config.AI.BatchSize,
		StallTimeout: d.Config.Import.StallTimeout,
	}, d.Logger)
	d.ImportService.Start(ctx)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger, d.Config.Import.MaxUploadBytes)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.ImportService != nil {
		d.ImportService.Stop()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
