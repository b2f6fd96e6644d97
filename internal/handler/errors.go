package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/evatr/internal/domain"
	"github.com/dukerupert/evatr/internal/middleware"
	"github.com/dukerupert/evatr/internal/telemetry"
)

// ErrorCodeToHTTPStatus maps application error codes to HTTP statuses.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.EUNAVAILABLE:
		return http.StatusBadGateway
	case domain.ENOTIMPL:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ErrorResponse writes err as JSON or plain text depending on what the
// client accepts. Internal errors are logged and their details hidden.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	message := domain.ErrorMessage(err)

	logger := middleware.GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("code", code),
			slog.String("op", domain.ErrorOp(err)),
			slog.Any("error", err),
		)
		telemetry.CaptureError(err, map[string]any{
			"op":         domain.ErrorOp(err),
			"path":       r.URL.Path,
			"request_id": middleware.GetRequestID(r.Context()),
		})
	} else {
		logger.Debug("request rejected", slog.String("code", code), slog.Any("error", err))
	}

	if !acceptsJSON(r) {
		http.Error(w, message, status)
		return
	}

	JSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// ValidationErrorResponse writes the field errors of a *domain.ValidationError.
// Other errors fall back to ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		ErrorResponse(w, r, err)
		return
	}

	JSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    domain.EINVALID,
		Message: "validation failed",
		Fields:  ve.Fields,
	}})
}

// NotFoundResponse writes a 404.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, &domain.Error{Code: domain.ENOTFOUND, Message: "not found"})
}

// InternalErrorResponse writes a 500 for an unexpected error.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "unexpected error"))
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// acceptsJSON reports whether the client expects a JSON response.
func acceptsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".json")
}
