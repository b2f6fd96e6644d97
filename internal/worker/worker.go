// Package worker runs deferred eVatR checks received over NATS.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/dukerupert/evatr/internal/evatr"
	"github.com/dukerupert/evatr/internal/jobs"
	"github.com/dukerupert/evatr/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// Subject and Queue select the deferred checks this worker receives.
	// Workers sharing a queue split the load.
	Subject string
	Queue   string

	// OutcomeSubject receives a VatCheckOutcome per processed check
	OutcomeSubject string

	// MaxConcurrency is the maximum number of checks to run concurrently
	MaxConcurrency int

	// JobTimeout bounds a single check including recording
	JobTimeout time.Duration

	// DrainTimeout bounds how long shutdown waits for the subscription to
	// hand over its pending messages
	DrainTimeout time.Duration
}

// drainPollInterval is how often shutdown checks whether a drain finished.
const drainPollInterval = 10 * time.Millisecond

// Subscription is the part of *nats.Subscription the worker needs. Drain
// returns before pending messages are delivered; IsValid turns false once
// the last of them has been handed to the callback.
type Subscription interface {
	Drain() error
	IsValid() bool
}

// Conn is the messaging connection used by the worker.
type Conn interface {
	QueueSubscribe(subject, queue string, handler func(data []byte)) (Subscription, error)
	Publish(subject string, data []byte) error
}

// NATSConn adapts *nats.Conn to Conn.
type NATSConn struct {
	nc *nats.Conn
}

// NewNATSConn wraps an established NATS connection.
func NewNATSConn(nc *nats.Conn) *NATSConn {
	return &NATSConn{nc: nc}
}

func (c *NATSConn) QueueSubscribe(subject, queue string, handler func(data []byte)) (Subscription, error) {
	sub, err := c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *NATSConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

// CheckerFunc returns the checker for a backend.
type CheckerFunc func(backend evatr.Backend) evatr.Checker

// Worker processes deferred checks
type Worker struct {
	config     Config
	conn       Conn
	checkerFor CheckerFunc
	metrics    *telemetry.CheckMetrics
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// NewWorker creates a new deferred check worker. A nil checkerFor uses the
// process-wide checker of each backend.
func NewWorker(conn Conn, checkerFor CheckerFunc, metrics *telemetry.CheckMetrics, config Config, logger *slog.Logger) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.Subject == "" {
		config.Subject = jobs.SubjectVatCheck
	}
	if config.Queue == "" {
		config.Queue = jobs.QueueVatCheck
	}
	if config.OutcomeSubject == "" {
		config.OutcomeSubject = jobs.SubjectVatCheckOutcome
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if checkerFor == nil {
		checkerFor = func(backend evatr.Backend) evatr.Checker {
			return evatr.New(backend, evatr.WithLogger(logger))
		}
	}

	return &Worker{
		config:     config,
		conn:       conn,
		checkerFor: checkerFor,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Start subscribes and processes checks until the context is cancelled. On
// shutdown the subscription is drained and in-flight checks are awaited.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"subject", w.config.Subject,
		"queue", w.config.Queue,
		"max_concurrency", w.config.MaxConcurrency,
	)

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	sub, err := w.conn.QueueSubscribe(w.config.Subject, w.config.Queue, func(data []byte) {
		// Blocking here holds back delivery while all slots are busy. Messages
		// arriving while the subscription drains are still processed.
		sem <- struct{}{}

		w.mu.Lock()
		if w.stopping {
			w.mu.Unlock()
			<-sem
			w.logger.Error("job dropped after drain timeout", "worker_id", w.config.WorkerID)
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()

		go func() {
			defer w.wg.Done()
			defer func() { <-sem }()
			if err := w.handle(ctx, data); err != nil {
				w.logger.Error("job failed", "worker_id", w.config.WorkerID, "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.config.Subject, err)
	}

	<-ctx.Done()
	w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)

	if err := sub.Drain(); err != nil {
		w.logger.Warn("failed to drain subscription", "error", err)
	}
	w.awaitDrain(sub)

	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.wg.Wait()

	return ctx.Err()
}

// awaitDrain blocks until sub has delivered its pending messages or
// DrainTimeout passes.
func (w *Worker) awaitDrain(sub Subscription) {
	deadline := time.NewTimer(w.config.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for sub.IsValid() {
		select {
		case <-ticker.C:
		case <-deadline.C:
			w.logger.Warn("subscription drain timed out",
				"worker_id", w.config.WorkerID,
				"timeout", w.config.DrainTimeout,
			)
			return
		}
	}
}

// handle processes one message. In-flight checks are not cut short by
// shutdown; only JobTimeout bounds them.
func (w *Worker) handle(ctx context.Context, data []byte) error {
	start := time.Now()

	var payload jobs.VatCheckPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		w.observeJob("unknown", "failed", start)
		return fmt.Errorf("failed to unmarshal vat check payload: %w", err)
	}

	backend := payload.Backend
	if backend == "" {
		backend = evatr.ActiveBackend()
	}
	checker := telemetry.InstrumentChecker(w.checkerFor(backend), w.metrics)

	w.logger.Info("processing job",
		"job_id", payload.JobID,
		"job_type", payload.JobType,
		"backend", backend,
		"record_id", payload.RecordID,
	)

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.JobTimeout)
	defer cancel()

	outcome, err := jobs.ProcessVatCheckJob(jobCtx, payload, checker, w.now())
	if err != nil {
		telemetry.CaptureCheckError(jobCtx, err, string(backend), payload.VAT)
		w.observeJob(backend, "failed", start)
		return err
	}

	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		w.observeJob(backend, "failed", start)
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if err := w.conn.Publish(w.config.OutcomeSubject, outcomeJSON); err != nil {
		w.observeJob(backend, "failed", start)
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	w.observeJob(backend, "completed", start)
	w.logger.Info("job completed",
		"job_id", payload.JobID,
		"valid", outcome.Valid,
		"success", outcome.Success,
		"codes", outcome.Codes,
	)
	return nil
}

func (w *Worker) observeJob(backend evatr.Backend, status string, start time.Time) {
	if w.metrics == nil {
		return
	}
	w.metrics.JobsProcessed.WithLabelValues(string(backend), status).Inc()
	w.metrics.JobDuration.WithLabelValues(string(backend)).Observe(time.Since(start).Seconds())
}
