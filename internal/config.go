package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dukerupert/evatr/internal/evatr"
	"github.com/dukerupert/evatr/internal/jobs"
	"github.com/dukerupert/evatr/internal/telemetry"
)

type Config struct {
	Env         string `validate:"oneof=dev prod"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	Port        uint16 `validate:"required"`
	DatabaseUrl string
	NatsURL     string
	Evatr       EvatrConfig
	Worker      WorkerConfig
	Sentry      telemetry.SentryConfig
}

// EvatrConfig holds the eVatR client settings shared by server and worker.
type EvatrConfig struct {
	// UseRestAPI selects the REST backend for callers that don't name one.
	UseRestAPI bool

	// RequesterVat is the querying party's own VAT ID. The backend specific
	// values override it when set.
	RequesterVat       string
	LegacyRequesterVat string
	RestRequesterVat   string

	LegacyURL   string        `validate:"required,url"`
	RestURL     string        `validate:"required,url"`
	HTTPTimeout time.Duration `validate:"gt=0"`

	// RecorderEnabled stores every check made for a record in DatabaseUrl.
	RecorderEnabled bool

	// DeferChecks makes validators publish checks to NATS instead of
	// running them inline.
	DeferChecks    bool
	JobSubject     string `validate:"required"`
	OutcomeSubject string `validate:"required"`
}

// WorkerConfig holds settings of the deferred check worker.
type WorkerConfig struct {
	Queue          string        `validate:"required"`
	MaxConcurrency int           `validate:"min=1,max=256"`
	JobTimeout     time.Duration `validate:"gt=0"`
	DrainTimeout   time.Duration `validate:"gt=0"`
}

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env:         v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Port:        uint16(v.GetUint("PORT")),
		DatabaseUrl: v.GetString("DATABASE_URL"),
		NatsURL:     v.GetString("NATS_URL"),
		Evatr: EvatrConfig{
			UseRestAPI:         v.GetBool("EVATR_USE_REST_API"),
			RequesterVat:       v.GetString("EVATR_REQUESTER_VAT"),
			LegacyRequesterVat: v.GetString("EVATR_LEGACY_REQUESTER_VAT"),
			RestRequesterVat:   v.GetString("EVATR_REST_REQUESTER_VAT"),
			LegacyURL:          v.GetString("EVATR_LEGACY_URL"),
			RestURL:            v.GetString("EVATR_REST_URL"),
			HTTPTimeout:        v.GetDuration("EVATR_HTTP_TIMEOUT"),
			RecorderEnabled:    v.GetBool("EVATR_RECORDER_ENABLED"),
			DeferChecks:        v.GetBool("EVATR_DEFER_CHECKS"),
			JobSubject:         v.GetString("EVATR_JOB_SUBJECT"),
			OutcomeSubject:     v.GetString("EVATR_OUTCOME_SUBJECT"),
		},
		Worker: WorkerConfig{
			Queue:          v.GetString("WORKER_QUEUE"),
			MaxConcurrency: v.GetInt("WORKER_MAX_CONCURRENCY"),
			JobTimeout:     v.GetDuration("WORKER_JOB_TIMEOUT"),
			DrainTimeout:   v.GetDuration("WORKER_DRAIN_TIMEOUT"),
		},
		Sentry: telemetry.SentryConfig{
			DSN:              v.GetString("SENTRY_DSN"),
			Enabled:          v.GetBool("SENTRY_ENABLED"), // Disabled by default for development
			Environment:      v.GetString("SENTRY_ENVIRONMENT"),
			Release:          v.GetString("SENTRY_RELEASE"),
			SampleRate:       v.GetFloat64("SENTRY_SAMPLE_RATE"),
			TracesSampleRate: v.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
			Debug:            v.GetBool("SENTRY_DEBUG"),
		},
	}

	// Validate env
	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	// Validate log level
	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 3000)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("NATS_URL", "")

	v.SetDefault("EVATR_USE_REST_API", false)
	v.SetDefault("EVATR_LEGACY_URL", evatr.DefaultLegacyURL)
	v.SetDefault("EVATR_REST_URL", evatr.DefaultRestURL)
	v.SetDefault("EVATR_HTTP_TIMEOUT", 30*time.Second)
	v.SetDefault("EVATR_RECORDER_ENABLED", false)
	v.SetDefault("EVATR_DEFER_CHECKS", false)
	v.SetDefault("EVATR_JOB_SUBJECT", jobs.SubjectVatCheck)
	v.SetDefault("EVATR_OUTCOME_SUBJECT", jobs.SubjectVatCheckOutcome)

	v.SetDefault("WORKER_QUEUE", jobs.QueueVatCheck)
	v.SetDefault("WORKER_MAX_CONCURRENCY", 4)
	v.SetDefault("WORKER_JOB_TIMEOUT", 60*time.Second)
	v.SetDefault("WORKER_DRAIN_TIMEOUT", 30*time.Second)

	v.SetDefault("SENTRY_ENABLED", false)
	v.SetDefault("SENTRY_ENVIRONMENT", "development")
	v.SetDefault("SENTRY_SAMPLE_RATE", 1.0)
	v.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.0) // Disabled by default
}

// Validate checks field constraints and the settings that depend on each
// other.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Evatr.RecorderEnabled && c.DatabaseUrl == "" {
		return fmt.Errorf("DATABASE_URL required when EVATR_RECORDER_ENABLED is set")
	}
	if c.Evatr.DeferChecks && c.NatsURL == "" {
		return fmt.Errorf("NATS_URL required when EVATR_DEFER_CHECKS is set")
	}
	if c.Env == "prod" && c.Evatr.RequesterVat == "" &&
		(c.Evatr.LegacyRequesterVat == "" || c.Evatr.RestRequesterVat == "") {
		return fmt.Errorf("EVATR_REQUESTER_VAT must be set in production environment")
	}

	return nil
}

// RequesterVat returns the requester VAT ID configured for backend.
func (c *Config) RequesterVat(backend evatr.Backend) string {
	switch {
	case backend == evatr.BackendLegacy && c.Evatr.LegacyRequesterVat != "":
		return c.Evatr.LegacyRequesterVat
	case backend == evatr.BackendRest && c.Evatr.RestRequesterVat != "":
		return c.Evatr.RestRequesterVat
	default:
		return c.Evatr.RequesterVat
	}
}

// ApplyEvatr pushes the settings into the process-wide backend configs.
// recorder and enqueuer may be nil; enqueuer is only installed when
// DeferChecks is set.
func (c *Config) ApplyEvatr(recorder evatr.Recorder, enqueuer evatr.JobEnqueuer) {
	for _, backend := range []evatr.Backend{evatr.BackendLegacy, evatr.BackendRest} {
		bc := evatr.ConfigFor(backend)
		bc.RequesterVat = c.RequesterVat(backend)
		bc.Recorder = recorder
		bc.Jobs = nil
		if c.Evatr.DeferChecks {
			bc.Jobs = enqueuer
		}
	}
	evatr.SetUseRestAPI(c.Evatr.UseRestAPI)
}

// CheckerOptions returns the endpoint, client and logger options of a
// backend's checker.
func (c *Config) CheckerOptions(backend evatr.Backend, client evatr.HTTPClient, logger *slog.Logger) []evatr.Option {
	endpoint := c.Evatr.LegacyURL
	if backend == evatr.BackendRest {
		endpoint = c.Evatr.RestURL
	}
	return []evatr.Option{
		evatr.WithEndpoint(endpoint),
		evatr.WithHTTPClient(client),
		evatr.WithLogger(logger),
	}
}
