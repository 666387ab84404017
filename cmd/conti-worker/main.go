package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"conti/internal/amqp"
	"conti/internal/config"
	"conti/internal/export"
	"conti/internal/services"
	"conti/internal/storage"
	"conti/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting conti-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Google Sheets export is optional: without it the worker still keeps
	// snapshots fresh, it just does not push transfer plans anywhere.
	var exporter worker.SettlementExporter
	if os.Getenv("GOOGLE_SPREADSHEET_ID") != "" {
		sheetsClient, err := export.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = sheetsClient
		logger.Info("Google Sheets exporter initialized")
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	balanceSvc := services.NewBalanceService(repo)
	snapshotWorker := worker.NewSnapshotWorker(repo, balanceSvc, exporter, cfg.SnapshotBatchSize)

	// On startup, refresh any scopes that went stale while the worker was down
	logger.Info("Performing startup snapshot refresh...")
	if err := snapshotWorker.StartupRefresh(ctx); err != nil {
		logger.Error("Failed startup snapshot refresh", "error", err)
		// Don't exit - continue with normal operation
	}

	go func() {
		handler := func(event *amqp.ExpenseEvent) error {
			return snapshotWorker.HandleEvent(ctx, event)
		}
		if err := amqpClient.ConsumeExpenseEvents(ctx, handler); err != nil {
			if err != context.Canceled {
				logger.Error("Event consumption failed", "error", err)
			}
			cancel()
		}
	}()

	// Periodic sweep of stale scope keys in case AMQP messages were lost
	ticker := time.NewTicker(cfg.SnapshotInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := snapshotWorker.ProcessStaleSnapshots(ctx); err != nil {
					logger.Error("Periodic snapshot sweep failed", "error", err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give in-flight refreshes a moment to finish
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
