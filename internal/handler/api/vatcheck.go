package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/evatr/internal/domain"
	"github.com/dukerupert/evatr/internal/evatr"
	"github.com/dukerupert/evatr/internal/handler"
	"github.com/dukerupert/evatr/internal/middleware"
	"github.com/dukerupert/evatr/internal/postgres"
	"github.com/dukerupert/evatr/internal/telemetry"
	"github.com/dukerupert/evatr/internal/validation"
)

const validatedAttribute = "vat"

// CheckLogReader reads stored checks. Implemented by *postgres.CheckLogStore.
type CheckLogReader interface {
	ListByRecord(ctx context.Context, recordType, recordID string, limit int) ([]postgres.CheckLog, error)
	Latest(ctx context.Context, recordType, recordID string) (postgres.CheckLog, error)
}

// CheckerFunc returns the checker of a backend.
type CheckerFunc func(backend evatr.Backend) evatr.Checker

// CheckRequest is the body of POST /api/v1/vat/checks and
// POST /api/v1/vat/validations.
type CheckRequest struct {
	VAT        string `json:"vat" validate:"required,max=32"`
	Name       string `json:"name" validate:"max=255"`
	City       string `json:"city" validate:"max=255"`
	Street     string `json:"street" validate:"max=255"`
	Zip        string `json:"zip" validate:"max=20"`
	Backend    string `json:"backend" validate:"omitempty,oneof=legacy rest"`
	RecordID   string `json:"record_id" validate:"max=64"`
	RecordType string `json:"record_type" validate:"required_with=RecordID,max=64"`
}

func (r CheckRequest) evatrRequest() evatr.Request {
	return evatr.Request{
		VAT:    r.VAT,
		Name:   r.Name,
		City:   r.City,
		Street: r.Street,
		Zip:    r.Zip,
	}
}

// checkRecord adapts a request to evatr.AddressRecord for the validator.
type checkRecord struct {
	req CheckRequest
}

func (r *checkRecord) FullName() string { return r.req.Name }
func (r *checkRecord) City() string     { return r.req.City }
func (r *checkRecord) Street() string   { return r.req.Street }
func (r *checkRecord) Zip() string      { return r.req.Zip }

// CheckResponse is a normalized check result.
type CheckResponse struct {
	Backend      evatr.Backend                     `json:"backend"`
	Success      bool                              `json:"success"`
	Valid        bool                              `json:"valid"`
	StatusCode   string                            `json:"status_code"`
	CheckedVatID string                            `json:"checked_vat_id"`
	Results      map[evatr.Field]evatr.FieldResult `json:"results"`
	Errors       []evatr.Field                     `json:"errors"`
	Codes        []string                          `json:"codes"`
	Response     string                            `json:"response"`
	CheckedAt    time.Time                         `json:"checked_at"`
}

// ValidationResponse is the outcome of POST /api/v1/vat/validations.
type ValidationResponse struct {
	Valid    bool                `json:"valid"`
	Deferred bool                `json:"deferred"`
	Errors   map[string][]string `json:"errors"`
	Messages []string            `json:"messages"`
}

// VatCheckHandler serves the VAT check API.
type VatCheckHandler struct {
	checkerFor CheckerFunc
	logs       CheckLogReader
	validate   *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
}

// NewVatCheckHandler creates a handler. A nil checkerFor uses the
// process-wide backend configuration; a nil logs disables the log endpoints.
func NewVatCheckHandler(checkerFor CheckerFunc, logs CheckLogReader, logger *slog.Logger) *VatCheckHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if checkerFor == nil {
		checkerFor = func(backend evatr.Backend) evatr.Checker {
			return evatr.New(backend, evatr.WithLogger(logger))
		}
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &VatCheckHandler{
		checkerFor: checkerFor,
		logs:       logs,
		validate:   v,
		logger:     logger,
		now:        time.Now,
	}
}

// Check handles POST /api/v1/vat/checks
//
// Runs one check synchronously, bypassing any job deferral. When record_id
// is given and the backend has a recorder, the response is logged.
func (h *VatCheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx, h.logger)

	req, checker, err := h.decode(r, "vatcheck.create")
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	result, err := checker.Check(ctx, req.evatrRequest())
	if err != nil {
		telemetry.CaptureCheckError(ctx, err, string(checker.Backend()), req.VAT)
		handler.ErrorResponse(w, r, err)
		return
	}

	checkedAt := h.now()
	if recorder := checker.Config().Recorder; recorder != nil && req.RecordID != "" {
		entry := validation.EntryFor(req.RecordID, req.RecordType, result, checkedAt)
		if err := recorder.Record(ctx, entry); err != nil {
			handler.ErrorResponse(w, r, domain.Internal(err, "vatcheck.create", "failed to record check"))
			return
		}
	}

	logger.Info("vat checked",
		"backend", checker.Backend(),
		"success", result.Success(),
		"valid", result.Valid(),
		"status_code", result.StatusCode(),
	)

	handler.JSON(w, http.StatusOK, CheckResponse{
		Backend:      result.Backend(),
		Success:      result.Success(),
		Valid:        result.Valid(),
		StatusCode:   result.StatusCode(),
		CheckedVatID: result.CheckedVatID(),
		Results:      result.Results(),
		Errors:       result.Errors(),
		Codes:        validation.Codes(result),
		Response:     result.Response(),
		CheckedAt:    checkedAt,
	})
}

// Validate handles POST /api/v1/vat/validations
//
// Runs the record validator. The request is treated as a persisted record
// when record_id is set. Responds 202 when the check was deferred to a
// worker, 422 when errors were added and 200 otherwise.
func (h *VatCheckHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx, h.logger)

	req, checker, err := h.decode(r, "vatcheck.validate")
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	v := validation.NewEvatrValidator(logger)
	v.Checker = checker
	v.Now = h.now
	v.Persisted = func(record any) bool { return record.(*checkRecord).req.RecordID != "" }
	v.Identify = func(record any) (string, string) {
		rec := record.(*checkRecord)
		return rec.req.RecordID, rec.req.RecordType
	}

	record := &checkRecord{req: req}
	errs := validation.Errors{}
	deferred := checker.Config().Jobs != nil

	if err := v.ValidateEach(ctx, record, validatedAttribute, req.VAT, errs); err != nil {
		if errs.Empty() {
			handler.ErrorResponse(w, r, err)
			return
		}
		// failure_evatr is already attached; the caller sees it as a field error
		telemetry.CaptureCheckError(ctx, err, string(checker.Backend()), req.VAT)
		logger.Warn("vat validation incomplete", "error", err)
	}

	status := http.StatusOK
	switch {
	case deferred:
		status = http.StatusAccepted
	case !errs.Empty():
		status = http.StatusUnprocessableEntity
	}

	handler.JSON(w, status, ValidationResponse{
		Valid:    !deferred && errs.Empty(),
		Deferred: deferred,
		Errors:   errs,
		Messages: errs.Messages(validatedAttribute),
	})
}

// ListChecks handles GET /api/v1/vat/checks/{recordID}?record_type=&limit=
func (h *VatCheckHandler) ListChecks(w http.ResponseWriter, r *http.Request) {
	recordID, recordType, err := h.recordParams(r, "checklog.list")
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 || limit > 500 {
			handler.ValidationErrorResponse(w, r, domain.NewValidationError("checklog.list", "limit", "limit must be between 1 and 500"))
			return
		}
	}

	logs, err := h.logs.ListByRecord(r.Context(), recordType, recordID, limit)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if logs == nil {
		logs = []postgres.CheckLog{}
	}

	handler.JSON(w, http.StatusOK, map[string]any{"checks": logs})
}

// LatestCheck handles GET /api/v1/vat/checks/{recordID}/latest?record_type=
func (h *VatCheckHandler) LatestCheck(w http.ResponseWriter, r *http.Request) {
	recordID, recordType, err := h.recordParams(r, "checklog.latest")
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	log, err := h.logs.Latest(r.Context(), recordType, recordID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, log)
}

// decode reads and validates a check request and resolves its backend.
func (h *VatCheckHandler) decode(r *http.Request, op string) (CheckRequest, evatr.Checker, error) {
	var req CheckRequest

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, nil, domain.Invalid(op, "request body is required")
		}
		return req, nil, domain.Invalid(op, "malformed JSON body")
	}

	// The service matches IDs loosely; only surrounding whitespace is dropped.
	req.VAT = strings.TrimSpace(req.VAT)

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return req, nil, domain.Invalid(op, "invalid request")
		}
		var out error
		for _, fe := range verrs {
			out = domain.AddFieldError(out, fe.Field(), fieldMessage(fe))
		}
		if ve, ok := out.(*domain.ValidationError); ok {
			ve.Op = op
		}
		return req, nil, out
	}

	backend := evatr.ActiveBackend()
	if req.Backend != "" {
		b, err := evatr.ParseBackend(req.Backend)
		if err != nil {
			return req, nil, err
		}
		backend = b
	}

	return req, h.checkerFor(backend), nil
}

func (h *VatCheckHandler) recordParams(r *http.Request, op string) (string, string, error) {
	if h.logs == nil {
		return "", "", &domain.Error{Code: domain.ENOTIMPL, Op: op, Message: "check logs are not enabled"}
	}

	recordID := r.PathValue("recordID")
	recordType := r.URL.Query().Get("record_type")
	if recordType == "" {
		return "", "", domain.NewValidationError(op, "record_type", "record_type is required")
	}
	return recordID, recordType, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
