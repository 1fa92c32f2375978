package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/neilastephenson/openclaw-mission-control/internal/api"
	"github.com/neilastephenson/openclaw-mission-control/internal/approval"
	"github.com/neilastephenson/openclaw-mission-control/internal/config"
	"github.com/neilastephenson/openclaw-mission-control/internal/repository"
	"github.com/neilastephenson/openclaw-mission-control/internal/worker"
	"github.com/neilastephenson/openclaw-mission-control/pkg/database"
	"github.com/neilastephenson/openclaw-mission-control/pkg/logging"
)

func main() {
	// Optional .env for local development
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval governance engine",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	approvalRepo := repository.NewApprovalRepository(db.DB, logger)

	engine := approval.NewService(approvalRepo, approval.Config{
		DefaultTTL: cfg.Approval.DefaultTTL,
		ListLimit:  cfg.Approval.ListLimit,
		MaxLimit:   cfg.Approval.MaxLimit,
		SweepBatch: cfg.Approval.SweepBatch,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := worker.NewManager(logger)
	if cfg.Sweeper.Enabled {
		manager.Register(worker.NewExpirySweeper(engine, cfg.Sweeper.Interval, logger))
	}
	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer manager.StopAll()

	server := api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, logger)

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}
