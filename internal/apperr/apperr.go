// Package apperr defines the error taxonomy shared by the scheduler, the
// store and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a classified failure. Two errors are the same kind when their
// codes match, so sentinels work with errors.Is after wrapping.
type Error struct {
	Code      string
	Status    int
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidGrade          = &Error{Code: "INVALID_GRADE", Status: http.StatusBadRequest, Message: "grade must be between 0 and 5"}
	ErrCorruptState          = &Error{Code: "CORRUPT_STATE", Status: http.StatusInternalServerError, Message: "item scheduling state is corrupt"}
	ErrEmptyQueue            = &Error{Code: "EMPTY_QUEUE", Status: http.StatusConflict, Message: "nothing is due"}
	ErrSessionComplete       = &Error{Code: "SESSION_COMPLETE", Status: http.StatusConflict, Message: "session is complete"}
	ErrStoreUnavailable      = &Error{Code: "STORE_UNAVAILABLE", Status: http.StatusServiceUnavailable, Retryable: true, Message: "store unavailable"}
	ErrConflictRetryExceeded = &Error{Code: "CONFLICT_RETRY_EXCEEDED", Status: http.StatusConflict, Retryable: true, Message: "too many concurrent updates"}

	ErrNotFound         = &Error{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: "not found"}
	ErrValidation       = &Error{Code: "VALIDATION_ERROR", Status: http.StatusBadRequest, Message: "validation failed"}
	ErrForbidden        = &Error{Code: "FORBIDDEN", Status: http.StatusForbidden, Message: "access denied"}
	ErrSessionNotActive = &Error{Code: "SESSION_NOT_ACTIVE", Status: http.StatusConflict, Message: "session is not in progress"}
	ErrItemMismatch     = &Error{Code: "ITEM_MISMATCH", Status: http.StatusConflict, Message: "item is not the current session item"}
	ErrSessionStarted   = &Error{Code: "SESSION_ALREADY_STARTED", Status: http.StatusConflict, Message: "session already started"}

	// ErrVersionConflict is raised by the store when an optimistic update
	// lost a race. It is consumed by the grade retry loop.
	ErrVersionConflict = &Error{Code: "VERSION_CONFLICT", Status: http.StatusConflict, Retryable: true, Message: "item version changed"}
)

// New returns a copy of kind carrying a specific message.
func New(kind *Error, format string, args ...any) *Error {
	e := *kind
	e.Message = fmt.Sprintf(format, args...)
	e.Err = nil
	return &e
}

// Wrap returns a copy of kind that wraps cause.
func Wrap(kind *Error, cause error) *Error {
	e := *kind
	e.Err = cause
	return &e
}

// As extracts the classified error from err. Unclassified errors are
// reported as internal failures.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError, Message: "An unexpected error occurred", Err: err}
}

// IsRetryable reports whether the caller may repeat the request unchanged.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
