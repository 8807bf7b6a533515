package transport

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a provider API error at the transport level.
type ErrorCode string

const (
	ErrorCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrorCodeConflict         ErrorCode = "CONFLICT"
	ErrorCodeThrottling       ErrorCode = "THROTTLING"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeUnknown          ErrorCode = "UNKNOWN"
)

// Error is a classified transport error. Status and Body carry the original
// provider response so callers can diagnose without re-running the call.
type Error struct {
	Code   ErrorCode
	Status int
	Reason string
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: provider returned %d %s: %s", e.Code, e.Status, e.Reason, e.Body)
}

// ClassifyStatus maps an HTTP status code to a transport error code.
func ClassifyStatus(status int) ErrorCode {
	switch status {
	case 400, 422:
		return ErrorCodeInvalidInput
	case 401, 403:
		return ErrorCodeUnauthorized
	case 404, 410:
		return ErrorCodeResourceNotFound
	case 409:
		return ErrorCodeConflict
	case 429:
		return ErrorCodeThrottling
	case 500, 502, 503, 504:
		return ErrorCodeInternalError
	default:
		return ErrorCodeUnknown
	}
}

// asError extracts a *Error from an error chain.
func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsNotFound reports whether the error is a 404-equivalent provider response.
func IsNotFound(err error) bool {
	e, ok := asError(err)
	return ok && e.Code == ErrorCodeResourceNotFound
}

// IsConflict reports whether the error is an operation-in-progress conflict.
func IsConflict(err error) bool {
	e, ok := asError(err)
	return ok && e.Code == ErrorCodeConflict
}
