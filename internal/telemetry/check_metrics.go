package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dukerupert/evatr/internal/evatr"
)

// Check outcomes used as the "outcome" label.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeFailure = "failure" // unsuccessful response or REST transport failure
	OutcomeError   = "error"   // legacy transport error
)

// CheckMetrics holds Prometheus metrics for eVatR checks and the job pipeline.
type CheckMetrics struct {
	// Checks
	Checks          *prometheus.CounterVec
	CheckDuration   *prometheus.HistogramVec
	FieldMismatches *prometheus.CounterVec

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	// Check log persistence
	LogsRecorded *prometheus.CounterVec
}

// NewCheckMetrics creates the metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewCheckMetrics(namespace string, reg prometheus.Registerer) *CheckMetrics {
	if namespace == "" {
		namespace = "evatr"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &CheckMetrics{
		// =======================================================================
		// Checks
		// =======================================================================
		Checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total eVatR checks by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		CheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "eVatR call duration (helps differentiate app slowness from BZSt issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
		FieldMismatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_mismatches_total",
				Help:      "Address fields reported as not matching",
			},
			[]string{"backend", "field"},
		),

		// =======================================================================
		// Background Jobs
		// =======================================================================
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "enqueued_total",
				Help:      "Total deferred checks handed to the queue",
			},
			[]string{"backend"},
		),
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "processed_total",
				Help:      "Total deferred checks processed by workers",
			},
			[]string{"backend", "status"}, // status: completed, failed
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Time spent processing a deferred check",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),

		// =======================================================================
		// Check Logs
		// =======================================================================
		LogsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_logs_recorded_total",
				Help:      "Check logs written by the recorder",
			},
			[]string{"status"}, // status: ok, error
		),
	}
}

// Outcome classifies a check for the outcome label.
func Outcome(result evatr.Result, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case result == nil || !result.Success():
		return OutcomeFailure
	case result.Valid():
		return OutcomeValid
	default:
		return OutcomeInvalid
	}
}

// ObserveCheck records one finished check.
func (m *CheckMetrics) ObserveCheck(backend evatr.Backend, result evatr.Result, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Checks.WithLabelValues(string(backend), Outcome(result, err)).Inc()
	m.CheckDuration.WithLabelValues(string(backend)).Observe(elapsed.Seconds())
	if err != nil || result == nil {
		return
	}
	for _, f := range result.Errors() {
		m.FieldMismatches.WithLabelValues(string(backend), string(f)).Inc()
	}
}

// instrumentedChecker wraps a Checker with metrics.
type instrumentedChecker struct {
	evatr.Checker
	metrics *CheckMetrics
}

// InstrumentChecker returns a Checker that reports every check to m.
func InstrumentChecker(c evatr.Checker, m *CheckMetrics) evatr.Checker {
	if m == nil {
		return c
	}
	return &instrumentedChecker{Checker: c, metrics: m}
}

func (c *instrumentedChecker) Check(ctx context.Context, req evatr.Request) (evatr.Result, error) {
	start := time.Now()
	result, err := c.Checker.Check(ctx, req)
	c.metrics.ObserveCheck(c.Backend(), result, err, time.Since(start))
	return result, err
}

func (c *instrumentedChecker) CheckRecord(ctx context.Context, record any, vat string) (evatr.Result, error) {
	start := time.Now()
	result, err := c.Checker.CheckRecord(ctx, record, vat)
	c.metrics.ObserveCheck(c.Backend(), result, err, time.Since(start))
	return result, err
}

// instrumentedRecorder counts recorder writes.
type instrumentedRecorder struct {
	evatr.Recorder
	metrics *CheckMetrics
}

// InstrumentRecorder returns a Recorder that counts writes in m.
func InstrumentRecorder(r evatr.Recorder, m *CheckMetrics) evatr.Recorder {
	if r == nil || m == nil {
		return r
	}
	return &instrumentedRecorder{Recorder: r, metrics: m}
}

func (r *instrumentedRecorder) Record(ctx context.Context, entry evatr.LogEntry) error {
	err := r.Recorder.Record(ctx, entry)
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.LogsRecorded.WithLabelValues(status).Inc()
	return err
}

// instrumentedEnqueuer counts deferred checks handed to the queue.
type instrumentedEnqueuer struct {
	evatr.JobEnqueuer
	metrics *CheckMetrics
}

// InstrumentEnqueuer returns a JobEnqueuer that counts successful enqueues
// in m.
func InstrumentEnqueuer(e evatr.JobEnqueuer, m *CheckMetrics) evatr.JobEnqueuer {
	if e == nil || m == nil {
		return e
	}
	return &instrumentedEnqueuer{JobEnqueuer: e, metrics: m}
}

func (e *instrumentedEnqueuer) Enqueue(ctx context.Context, job evatr.Job) error {
	if err := e.JobEnqueuer.Enqueue(ctx, job); err != nil {
		return err
	}
	e.metrics.JobsEnqueued.WithLabelValues(string(job.Backend)).Inc()
	return nil
}

// Checks is the global instance used by the server and worker binaries.
var Checks *CheckMetrics

// InitCheckMetrics initializes the global check metrics instance.
func InitCheckMetrics(namespace string) *CheckMetrics {
	Checks = NewCheckMetrics(namespace, nil)
	return Checks
}
