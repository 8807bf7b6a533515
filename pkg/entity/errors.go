package entity

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a lifecycle error for the host scheduler's retry
// and recovery logic.
type ErrorClass string

const (
	// ErrorClassNotFound indicates the provider resource does not exist.
	// Expected during adoption lookups and delete of an already-gone
	// resource; drives specific branches rather than failing the cycle.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassConflict indicates another provider-side operation is
	// already running against the same parent resource. Retried with a
	// bounded fixed backoff; fatal only after the retry budget.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassNotReady indicates the resource has not reached its ready
	// condition yet. The scheduler's attempt budget governs how long this
	// is tolerated.
	ErrorClassNotReady ErrorClass = "not_ready"

	// ErrorClassPermanent indicates a non-recoverable provider error:
	// validation, permission, quota, or a failed asynchronous operation.
	// Never retried automatically.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error is a classified lifecycle error. Fatal errors retain the original
// provider HTTP status and response body so operators can diagnose without
// re-running with verbose flags.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Entity names the entity the error belongs to.
	Entity string `json:"entity,omitempty"`

	// Operation is the lifecycle operation being performed.
	Operation string `json:"operation,omitempty"`

	// HTTPStatus is the provider status code, when the error came from a
	// provider call.
	HTTPStatus int `json:"http_status,omitempty"`

	// Body is the raw provider response body, when available.
	Body string `json:"body,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Entity != "" {
		msg += fmt.Sprintf(" (entity=%s", e.Entity)
		if e.Operation != "" {
			msg += fmt.Sprintf(", operation=%s", e.Operation)
		}
		msg += ")"
	}
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(": status=%d body=%s", e.HTTPStatus, e.Body)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// WithContext attaches entity and operation context to the error.
func (e *Error) WithContext(entityName, operation string) *Error {
	e.Entity = entityName
	e.Operation = operation
	return e
}

// NewNotFoundError creates a not-found classified error.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Class: ErrorClassNotFound, Message: message, Err: err}
}

// NewConflictError creates a conflict classified error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewNotReadyError creates a not-ready classified error.
func NewNotReadyError(message string) *Error {
	return &Error{Class: ErrorClassNotReady, Message: message}
}

// NewPermanentError creates a permanent classified error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// classOf extracts the class from an error chain, defaulting to permanent.
func classOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// IsNotFound reports whether the error is classified not-found.
func IsNotFound(err error) bool {
	return err != nil && classOf(err) == ErrorClassNotFound
}

// IsConflict reports whether the error is classified as a conflict.
func IsConflict(err error) bool {
	return err != nil && classOf(err) == ErrorClassConflict
}

// IsNotReady reports whether the error is classified not-ready.
func IsNotReady(err error) bool {
	return err != nil && classOf(err) == ErrorClassNotReady
}

// IsPermanent reports whether the error is classified permanent.
func IsPermanent(err error) bool {
	return err != nil && classOf(err) == ErrorClassPermanent
}

// Common error codes.
const (
	ErrCodeImmutableField  = "IMMUTABLE_FIELD"
	ErrCodeOperationFailed = "OPERATION_FAILED"
	ErrCodeRetryExhausted  = "RETRY_EXHAUSTED"
	ErrCodeUnknownAction   = "UNKNOWN_ACTION"
	ErrCodeUnknownKind     = "UNKNOWN_KIND"
)
