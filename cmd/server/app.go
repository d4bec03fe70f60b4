package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/studioforge/forge-api/internal/admission"
	"github.com/studioforge/forge-api/internal/auth"
	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/dispatch"
	"github.com/studioforge/forge-api/internal/platform/logger"
	"github.com/studioforge/forge-api/internal/platform/postgres"
	"github.com/studioforge/forge-api/internal/ratelimit"
	"github.com/studioforge/forge-api/internal/reaper"
)

// application holds the server's wired dependencies.
type application struct {
	config           *config.Config
	logger           *slog.Logger
	db               *sql.DB
	bus              *dispatch.Bus
	verifier         auth.Verifier
	admissionService *admission.Service
	reaper           *reaper.Reaper
}

// newApplication loads configuration and wires every component of the API
// server. All dependencies are constructed up front; a failure here means
// the process should not start.
func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	db, err := openDatabase(ctx, cfg.Database.URL, appLogger)
	if err != nil {
		return nil, err
	}

	if err := postgres.RunMigrations(ctx, db, appLogger); err != nil {
		return nil, err
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	bus, err := dispatch.Connect(cfg.Broker.URL, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db)
	rateLimitStore := postgres.NewPostgresRateLimitStore(db)

	limiter, err := ratelimit.NewLimiter(rateLimitStore, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	admissionService, err := admission.NewService(
		taskStore,
		limiter,
		ratelimit.NewRuleSet(cfg.RateLimit),
		bus,
		cfg.Broker.TaskSubject,
		appLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission service: %w", err)
	}

	taskReaper, err := reaper.New(taskStore, appLogger, cfg.Reaper)
	if err != nil {
		return nil, fmt.Errorf("failed to create reaper: %w", err)
	}

	return &application{
		config:           cfg,
		logger:           appLogger,
		db:               db,
		bus:              bus,
		verifier:         verifier,
		admissionService: admissionService,
		reaper:           taskReaper,
	}, nil
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

// run starts the reaper and the HTTP server and blocks until shutdown.
func (app *application) run() error {
	if err := app.reaper.Start(); err != nil {
		return err
	}

	return app.startHTTPServer(app.setupRouter())
}

// cleanup releases resources during shutdown, in reverse wiring order.
func (app *application) cleanup() {
	app.reaper.Stop()
	app.bus.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database connection", "error", err)
	}
}
