package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/dukerupert/evatr/internal"
	"github.com/dukerupert/evatr/internal/evatr"
	"github.com/dukerupert/evatr/internal/handler/api"
	"github.com/dukerupert/evatr/internal/jobs"
	"github.com/dukerupert/evatr/internal/middleware"
	"github.com/dukerupert/evatr/internal/postgres"
	"github.com/dukerupert/evatr/internal/router"
	"github.com/dukerupert/evatr/internal/routes"
	"github.com/dukerupert/evatr/internal/telemetry"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry
	flushSentry, err := telemetry.InitSentry(cfg.Sentry, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	// Initialize Prometheus metrics
	httpMetrics := middleware.NewMetrics("evatr", nil)
	checkMetrics := telemetry.InitCheckMetrics("evatr")

	// ==========================================================================
	// Check log (optional)
	// ==========================================================================

	var (
		recorder evatr.Recorder
		logs     api.CheckLogReader
		pinger   api.Pinger
	)

	if cfg.DatabaseUrl != "" {
		logger.Info("Running database migrations...")
		if err := internal.MigrateURL(cfg.DatabaseUrl); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database migrations completed successfully")

		pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		store := postgres.NewCheckLogStore(pool)
		logs = store
		pinger = pool
		if cfg.Evatr.RecorderEnabled {
			recorder = telemetry.InstrumentRecorder(store, checkMetrics)
			logger.Info("Check log recorder enabled")
		}
	}

	// ==========================================================================
	// Deferred checks (optional)
	// ==========================================================================

	var enqueuer evatr.JobEnqueuer
	if cfg.Evatr.DeferChecks {
		logger.Info("Connecting to NATS...", "url", cfg.NatsURL)
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("evatr-server"))
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer nc.Drain()

		enqueuer = telemetry.InstrumentEnqueuer(jobs.NewNATSEnqueuer(nc, cfg.Evatr.JobSubject), checkMetrics)
		logger.Info("Deferred checks enabled", "subject", cfg.Evatr.JobSubject)
	}

	cfg.ApplyEvatr(recorder, enqueuer)
	logger.Info("eVatR configured", "backend", evatr.ActiveBackend())

	client := telemetry.NewHTTPClient(cfg.Evatr.HTTPTimeout)
	checkerFor := func(backend evatr.Backend) evatr.Checker {
		checker := evatr.New(backend, cfg.CheckerOptions(backend, client, logger)...)
		return telemetry.InstrumentChecker(checker, checkMetrics)
	}

	// ==========================================================================
	// Routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		telemetry.SentryMiddleware(),
		httpMetrics.Middleware,
		middleware.MaxBodySize(),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		VatCheckHandler: api.NewVatCheckHandler(checkerFor, logs, logger),
		HealthHandler:   api.NewHealthHandler(pinger, logger),
		MetricsHandler:  httpMetrics.Handler(nil),
		LogsEnabled:     logs != nil,
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// A check may take the full eVatR timeout.
		WriteTimeout: cfg.Evatr.HTTPTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
