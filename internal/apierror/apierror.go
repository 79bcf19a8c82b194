package apierror

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// ErrStaleLease means a completion arrived with a lease token that is
	// no longer current. Expected under worker contention; the losing
	// caller drops its result instead of treating it as a failure.
	ErrStaleLease ErrorCode = "STALE_LEASE"

	// ErrImmutableViolation means something attempted to mutate an
	// append-only row. Always a programming or schema-misuse error.
	ErrImmutableViolation ErrorCode = "IMMUTABLE_VIOLATION"

	// ErrTerminalInstruction means an operation was attempted against an
	// instruction the Financial Core already considers finished.
	ErrTerminalInstruction ErrorCode = "TERMINAL_INSTRUCTION"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err is an APIError carrying the given code.
func Is(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
