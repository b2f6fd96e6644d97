// Package validation attaches eVatR check outcomes to records as attribute
// errors.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/evatr/internal/evatr"
)

// Error codes added to the validated attribute.
const (
	CodeFailure = "failure_evatr"
	CodeInvalid = "invalid_evatr"

	fieldCodePrefix = "invalid_vat_"
)

// FieldCode returns the error code for a mismatching address field.
func FieldCode(f evatr.Field) string {
	return fieldCodePrefix + string(f)
}

// ErrorAdder collects attribute errors on a record.
type ErrorAdder interface {
	Add(attribute, code string)
}

// Codes translates a result into attribute error codes. An unsuccessful
// result yields only CodeFailure; otherwise CodeInvalid is reported when the
// ID is not valid, followed by one code per mismatching field.
func Codes(result evatr.Result) []string {
	if !result.Success() {
		return []string{CodeFailure}
	}

	var codes []string
	if !result.Valid() {
		codes = append(codes, CodeInvalid)
	}
	for _, f := range result.Errors() {
		codes = append(codes, FieldCode(f))
	}
	return codes
}

// EvatrValidator checks a VAT ID attribute of a record against the eVatR
// service.
type EvatrValidator struct {
	// Checker is the backend to use. When nil the active backend is resolved
	// on every call.
	Checker evatr.Checker

	// Persisted reports whether the record is stored. Checks are only
	// recorded for persisted records. A nil predicate never records.
	Persisted func(record any) bool

	// Identify returns the identity a log entry is stored under.
	Identify func(record any) (id, recordType string)

	Now    func() time.Time
	Logger *slog.Logger
}

// NewEvatrValidator creates a validator bound to the active backend.
func NewEvatrValidator(logger *slog.Logger) *EvatrValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvatrValidator{
		Now:    time.Now,
		Logger: logger,
	}
}

func (v *EvatrValidator) checker() evatr.Checker {
	if v.Checker != nil {
		return v.Checker
	}
	return evatr.Active()
}

func (v *EvatrValidator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func (v *EvatrValidator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *EvatrValidator) identify(record any) (string, string) {
	if v.Identify != nil {
		return v.Identify(record)
	}
	return "", fmt.Sprintf("%T", record)
}

// ValidateEach checks value for the attribute of record and adds the
// resulting error codes to errs.
//
// With a job enqueuer configured on the checker, the check is handed off and
// no errors are added. A transport error from the legacy backend adds
// CodeFailure and is returned.
func (v *EvatrValidator) ValidateEach(ctx context.Context, record any, attribute, value string, errs ErrorAdder) error {
	checker := v.checker()
	cfg := checker.Config()
	logger := v.logger().With("attribute", attribute, "backend", checker.Backend())

	if cfg.Jobs != nil {
		return v.enqueue(ctx, checker, record, attribute, value)
	}

	result, err := checker.CheckRecord(ctx, record, value)
	if err != nil {
		logger.Error("vat check failed", "error", err)
		errs.Add(attribute, CodeFailure)
		return err
	}

	recordErr := v.record(ctx, cfg, record, result)
	if recordErr != nil {
		logger.Error("failed to record vat check", "error", recordErr)
	}

	for _, code := range Codes(result) {
		errs.Add(attribute, code)
	}

	return recordErr
}

func (v *EvatrValidator) enqueue(ctx context.Context, checker evatr.Checker, record any, attribute, value string) error {
	cfg := checker.Config()
	mapping := cfg.Mapping
	if mapping == nil {
		mapping = evatr.DefaultMapping
	}
	fields := mapping(record)
	id, recordType := v.identify(record)

	job := evatr.Job{
		Record:     record,
		RecordID:   id,
		RecordType: recordType,
		Attribute:  attribute,
		Backend:    checker.Backend(),
		Request: evatr.Request{
			VAT:    value,
			Name:   fields.Name,
			City:   fields.City,
			Street: fields.Street,
			Zip:    fields.Zip,
		},
	}

	if err := cfg.Jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue vat check: %w", err)
	}

	v.logger().Debug("vat check deferred", "attribute", attribute, "record_id", id)
	return nil
}

func (v *EvatrValidator) record(ctx context.Context, cfg *evatr.Config, record any, result evatr.Result) error {
	if cfg.Recorder == nil || v.Persisted == nil || !v.Persisted(record) {
		return nil
	}

	id, recordType := v.identify(record)
	return cfg.Recorder.Record(ctx, EntryFor(id, recordType, result, v.now()))
}

// EntryFor builds the log entry stored for result.
func EntryFor(recordID, recordType string, result evatr.Result, checkedAt time.Time) evatr.LogEntry {
	return evatr.LogEntry{
		RecordID:   recordID,
		RecordType: recordType,
		Backend:    result.Backend(),
		Success:    result.Success(),
		Valid:      result.Valid(),
		StatusCode: result.StatusCode(),
		Response:   result.Response(),
		CheckedAt:  checkedAt,
	}
}
