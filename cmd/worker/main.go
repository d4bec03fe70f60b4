// Package main implements the Forge worker: a NATS queue-group consumer
// that claims dispatched tasks, runs the generation or refinement pipeline
// against Gemini and the artifact store, and records the terminal outcome.
// Scale horizontally by running more instances on the same queue group.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/dispatch"
	"github.com/studioforge/forge-api/internal/platform/gemini"
	"github.com/studioforge/forge-api/internal/platform/logger"
	"github.com/studioforge/forge-api/internal/platform/postgres"
	s3store "github.com/studioforge/forge-api/internal/platform/s3"
	"github.com/studioforge/forge-api/internal/worker"
)

func main() {
	_ = godotenv.Load()

	if err := run(context.Background()); err != nil {
		log.Fatalf("Worker error: %v", err)
	}
}

// run wires the worker's process-lifetime collaborators and consumes task
// messages until a shutdown signal arrives. Generator and storage clients
// are built exactly once here; no per-message construction.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	workerLogger := logger.Setup(cfg.Server.LogLevel).With("service", "forge-worker")

	if cfg.Generator.GeminiAPIKey == "" {
		return fmt.Errorf("generator gemini_api_key is required for the worker")
	}
	if cfg.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required for the worker")
	}

	db, err := openDatabase(ctx, cfg.Database.URL, workerLogger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	generator, err := gemini.NewGenerator(ctx, workerLogger, cfg.Generator)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	artifacts, err := s3store.NewClient(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	processor, err := worker.NewProcessor(
		postgres.NewPostgresTaskStore(db),
		generator,
		artifacts,
		workerLogger,
	)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	bus, err := dispatch.Connect(cfg.Broker.URL, workerLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer bus.Close()

	sub, err := bus.SubscribeTasks(cfg.Broker.TaskSubject, cfg.Broker.WorkerQueue, processor.HandleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to task subject: %w", err)
	}

	workerLogger.Info("worker started",
		"subject", cfg.Broker.TaskSubject,
		"queue", cfg.Broker.WorkerQueue)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownCh

	workerLogger.Info("shutting down worker")

	// Stop taking new deliveries, let in-flight handlers finish.
	if err := sub.Drain(); err != nil {
		workerLogger.Error("failed to drain subscription", "error", err)
	}

	workerLogger.Info("worker shutdown completed")
	return nil
}

// openDatabase opens the connection pool and verifies connectivity.
func openDatabase(ctx context.Context, url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}
