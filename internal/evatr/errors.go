package evatr

import "fmt"

// ============================================================================
// EVATR ERROR CODES
// ============================================================================
// These constants mirror the HTTP-facing error codes used by the handler layer.

const (
	CodeInvalid     = "invalid"
	CodeUnavailable = "unavailable" // transport failures
)

// ============================================================================
// EVATR ERROR TYPE
// ============================================================================

// Error is an eVatR specific error with a code and message.
type Error struct {
	Code    string
	Message string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the error code for HTTP status mapping.
func (e *Error) ErrorCode() string {
	return e.Code
}

// ErrorMessage returns the user-facing message.
func (e *Error) ErrorMessage() string {
	return e.Message
}

// ============================================================================
// EVATR DOMAIN ERRORS
// ============================================================================

// ErrTransport wraps a failed call to the eVatR service.
func ErrTransport(op string, err error) error {
	return &Error{
		Code:    CodeUnavailable,
		Op:      op,
		Message: "eVatR service unreachable",
		Err:     err,
	}
}

// ErrUnknownBackend is returned for backend names other than legacy and rest.
func ErrUnknownBackend(name string) error {
	return &Error{
		Code:    CodeInvalid,
		Message: fmt.Sprintf("unknown eVatR backend %q", name),
	}
}
