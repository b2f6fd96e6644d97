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
	"github.com/dukerupert/evatr/internal/middleware"
	"github.com/dukerupert/evatr/internal/postgres"
	"github.com/dukerupert/evatr/internal/router"
	"github.com/dukerupert/evatr/internal/telemetry"
	"github.com/dukerupert/evatr/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	if cfg.NatsURL == "" {
		return errors.New("NATS_URL is required for the worker")
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	flushSentry, err := telemetry.InitSentry(cfg.Sentry, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	checkMetrics := telemetry.InitCheckMetrics("evatr")

	var (
		recorder evatr.Recorder
		pinger   api.Pinger
	)
	if cfg.Evatr.RecorderEnabled {
		if err := internal.MigrateURL(cfg.DatabaseUrl); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		recorder = telemetry.InstrumentRecorder(postgres.NewCheckLogStore(pool), checkMetrics)
		pinger = pool
	}

	// The worker runs checks itself; it never defers them again.
	cfg.ApplyEvatr(recorder, nil)

	nc, err := nats.Connect(cfg.NatsURL, nats.Name("evatr-worker"))
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}
	defer nc.Drain()

	client := telemetry.NewHTTPClient(cfg.Evatr.HTTPTimeout)
	checkerFor := func(backend evatr.Backend) evatr.Checker {
		return evatr.New(backend, cfg.CheckerOptions(backend, client, logger)...)
	}

	w := worker.NewWorker(worker.NewNATSConn(nc), checkerFor, checkMetrics, worker.Config{
		Subject:        cfg.Evatr.JobSubject,
		Queue:          cfg.Worker.Queue,
		OutcomeSubject: cfg.Evatr.OutcomeSubject,
		MaxConcurrency: cfg.Worker.MaxConcurrency,
		JobTimeout:     cfg.Worker.JobTimeout,
		DrainTimeout:   cfg.Worker.DrainTimeout,
	}, logger)

	// Health and metrics for the orchestrator
	httpMetrics := middleware.NewMetrics("evatr_worker", nil)
	r := router.New(router.Recovery(logger), httpMetrics.Middleware)
	r.Get("/health", api.NewHealthHandler(pinger, logger).Health)
	r.Get("/metrics", httpMetrics.Handler(nil).ServeHTTP)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting worker health server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()

	err = w.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
