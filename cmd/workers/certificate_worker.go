package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"event-portal/portal-backend/internal/app"
	"event-portal/portal-backend/internal/certificates/scheduler"
	"event-portal/portal-backend/internal/config"
	"event-portal/portal-backend/internal/database"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Connect to database
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.SQLX.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	certs, err := app.NewCertificates(ctx, cfg, db, nil, logger)
	if err != nil {
		logger.Fatal("Failed to initialize certificates", zap.Error(err))
	}

	sweeper := scheduler.NewSweeper(certs.Repository, certs.Service, logger, scheduler.SweeperConfig{
		Spec:      cfg.Worker.SweepSpec,
		BatchSize: cfg.Worker.BatchSize,
		Timeout:   cfg.Worker.SweepTimeout.Duration,
	})

	if *once {
		result := sweeper.Sweep(ctx)
		logger.Info("Sweep finished",
			zap.Int("attempted", result.Attempted),
			zap.Int("recovered", result.Recovered),
			zap.Int("failed", result.Failed))
		return
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Certificate worker starting")
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("Worker error", zap.Error(err))
	}

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()
	sweeper.Stop()

	logger.Info("Certificate worker stopped")
}
