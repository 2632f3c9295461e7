package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeWrongPhase          ErrorCode = "WRONG_PHASE"
	CodeFieldLocked         ErrorCode = "FIELD_LOCKED"
	CodeSubmissionInFlight  ErrorCode = "SUBMISSION_IN_FLIGHT"
	CodeRegistrationFailed  ErrorCode = "REGISTRATION_FAILED"
	CodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamRejected    ErrorCode = "UPSTREAM_REJECTED"
	CodeUpstreamMalformed   ErrorCode = "UPSTREAM_MALFORMED"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatusMap maps error codes to HTTP status codes
var HTTPStatusMap = map[ErrorCode]int{
	CodeBadRequest:          http.StatusBadRequest,
	CodeNotFound:            http.StatusNotFound,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeWrongPhase:          http.StatusConflict,
	CodeFieldLocked:         http.StatusConflict,
	CodeSubmissionInFlight:  http.StatusConflict,
	CodeRegistrationFailed:  http.StatusBadGateway,
	CodeUpstreamTimeout:     http.StatusGatewayTimeout,
	CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	CodeUpstreamRejected:    http.StatusBadGateway,
	CodeUpstreamMalformed:   http.StatusBadGateway,
	CodeInternalError:       http.StatusInternalServerError,
}

// ErrorResponse represents the standardized error response structure
type ErrorResponse struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		TraceID string    `json:"trace_id,omitempty"`
	} `json:"error"`
}

// AppError represents an application error with code and message
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorf creates a new AppError with formatted message
func NewAppErrorf(code ErrorCode, cause error, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// ToErrorResponse converts AppError to ErrorResponse
func (e *AppError) ToErrorResponse(traceID string) ErrorResponse {
	resp := ErrorResponse{}
	resp.Error.Code = e.Code
	resp.Error.Message = e.Message
	resp.Error.TraceID = traceID
	return resp
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	if status, exists := HTTPStatusMap[e.Code]; exists {
		return status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the code of the first AppError in err's chain
func CodeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}
