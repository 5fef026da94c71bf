package common

import (
	"errors"
	"fmt"
)

// AppError carries a stable machine code plus a human-readable message for
// the caller-facing surface.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Pipeline error taxonomy. The first two abort a run; the ledger pair is
// owned by the bill submitter, which is the only step allowed to retry.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrExtractionFailed  = errors.New("text extraction failed")
	ErrLedgerTransient   = errors.New("transient ledger failure")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrLedgerRejected    = errors.New("ledger rejected request")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
)

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode maps an error chain to its stable caller-facing code.
func ErrorCode(err error) string {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "UNSUPPORTED_FORMAT"
	case errors.Is(err, ErrExtractionFailed):
		return "EXTRACTION_FAILED"
	case errors.Is(err, ErrLedgerUnavailable):
		return "LEDGER_UNAVAILABLE"
	case errors.Is(err, ErrLedgerRejected):
		return "LEDGER_REJECTED"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	default:
		return "INTERNAL"
	}
}
