package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest         ErrorCode = "INVALID_REQUEST"
	ErrMethodNotAllowed       ErrorCode = "METHOD_NOT_ALLOWED"
	ErrUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrForbidden              ErrorCode = "FORBIDDEN"
	ErrRateLimited            ErrorCode = "RATE_LIMITED"
	ErrParseFailed            ErrorCode = "GRAPHQL_PARSE_FAILED"
	ErrValidationFailed       ErrorCode = "GRAPHQL_VALIDATION_FAILED"
	ErrOperationResolution    ErrorCode = "OPERATION_RESOLUTION_FAILURE"
	ErrIntrospectionDisabled  ErrorCode = "INTROSPECTION_DISABLED"
	ErrPersistedQueryNotFound ErrorCode = "PERSISTED_QUERY_NOT_FOUND"
	ErrPersistedQueryMismatch ErrorCode = "PERSISTED_QUERY_HASH_MISMATCH"
	ErrPersistedQueryDisabled ErrorCode = "PERSISTED_QUERY_NOT_SUPPORTED"
)

// Schema error codes
const (
	ErrSchemaUnavailable ErrorCode = "SCHEMA_UNAVAILABLE"
	ErrSchemaInvalid     ErrorCode = "SCHEMA_INVALID"
)

// Upstream error codes
const (
	ErrDownstreamService ErrorCode = "DOWNSTREAM_SERVICE_ERROR"
	ErrUpstreamTimeout   ErrorCode = "UPSTREAM_TIMEOUT"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Service    string    `json:"service,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithService sets the subgraph name the error is attributed to.
func (e *Error) WithService(service string) *Error {
	e.Service = service
	return e
}

// Status returns the HTTP status for the error, falling back to the code mapping.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return StatusForCode(e.Code)
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// StatusForCode maps an error code to its HTTP status.
func StatusForCode(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrParseFailed, ErrValidationFailed, ErrOperationResolution,
		ErrIntrospectionDisabled, ErrPersistedQueryMismatch, ErrPersistedQueryDisabled:
		return http.StatusBadRequest
	case ErrPersistedQueryNotFound:
		// Apollo clients expect 200 so they retry with the full query
		return http.StatusOK
	case ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrSchemaUnavailable:
		return http.StatusServiceUnavailable
	case ErrSchemaInvalid:
		return http.StatusUnprocessableEntity
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrDownstreamService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
