package evatr

import (
	"context"
	"sync/atomic"
	"time"
)

// AddressFields are the values a mapping function extracts from a record.
type AddressFields struct {
	Name   string
	City   string
	Street string
	Zip    string
}

// MappingFunc derives the address fields of a check from an arbitrary record.
type MappingFunc func(record any) AddressFields

// AddressRecord is implemented by records that DefaultMapping understands.
type AddressRecord interface {
	FullName() string
	City() string
	Street() string
	Zip() string
}

// DefaultMapping reads the address from records implementing AddressRecord.
// Any other record maps to empty fields.
func DefaultMapping(record any) AddressFields {
	r, ok := record.(AddressRecord)
	if !ok {
		return AddressFields{}
	}
	return AddressFields{
		Name:   r.FullName(),
		City:   r.City(),
		Street: r.Street(),
		Zip:    r.Zip(),
	}
}

// LogEntry is what a Recorder stores for one check.
type LogEntry struct {
	RecordID   string
	RecordType string
	Backend    Backend
	Success    bool
	Valid      bool
	StatusCode string
	Response   string
	CheckedAt  time.Time
}

// Recorder persists the raw response of a check against a record.
type Recorder interface {
	Record(ctx context.Context, entry LogEntry) error
}

// Job describes a check deferred to a background worker.
type Job struct {
	// Record is the in-process record being validated. Out-of-process
	// enqueuers rely on RecordID/RecordType instead.
	Record     any
	RecordID   string
	RecordType string
	Attribute  string
	Backend    Backend
	Request    Request
}

// JobEnqueuer hands a check to an asynchronous worker.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Config holds the settings of one backend.
type Config struct {
	// RequesterVat is sent to the service as the querying party.
	RequesterVat string

	// Recorder is optional. When nil no check is logged.
	Recorder Recorder

	// Mapping extracts address fields from records passed to CheckRecord.
	Mapping MappingFunc

	// Jobs is optional. When set, validators enqueue checks instead of
	// running them synchronously.
	Jobs JobEnqueuer
}

// NewConfig returns a Config using DefaultMapping.
func NewConfig() *Config {
	return &Config{Mapping: DefaultMapping}
}

var (
	legacyConfig = NewConfig()
	restConfig   = NewConfig()
	useRestAPI   atomic.Bool
)

// LegacyConfig returns the process-wide configuration of the legacy backend.
func LegacyConfig() *Config { return legacyConfig }

// RestConfig returns the process-wide configuration of the REST backend.
func RestConfig() *Config { return restConfig }

// ConfigFor returns the process-wide configuration of backend.
func ConfigFor(backend Backend) *Config {
	if backend == BackendRest {
		return restConfig
	}
	return legacyConfig
}

// SetUseRestAPI switches generic callers between the legacy and REST backends.
func SetUseRestAPI(enabled bool) { useRestAPI.Store(enabled) }

// UseRestAPI reports whether the REST backend is active.
func UseRestAPI() bool { return useRestAPI.Load() }

// ActiveBackend returns the backend selected by SetUseRestAPI.
func ActiveBackend() Backend {
	if UseRestAPI() {
		return BackendRest
	}
	return BackendLegacy
}

// Active returns a checker for the active backend, bound to that backend's
// process-wide configuration.
func Active(opts ...Option) Checker {
	return New(ActiveBackend(), opts...)
}

// New returns a checker for backend bound to its process-wide configuration.
func New(backend Backend, opts ...Option) Checker {
	if backend == BackendRest {
		return NewRestChecker(restConfig, opts...)
	}
	return NewLegacyChecker(legacyConfig, opts...)
}

// ParseBackend converts a configuration or request value into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendLegacy:
		return BackendLegacy, nil
	case BackendRest:
		return BackendRest, nil
	}
	return "", ErrUnknownBackend(s)
}
