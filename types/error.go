package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the council service.
type ErrorCode string

// Conductor error codes
const (
	ErrConfiguration      ErrorCode = "CONFIGURATION_ERROR"
	ErrCircuitBreakerStop ErrorCode = "CIRCUIT_BREAKER_STOP"
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrPersonaHushed      ErrorCode = "PERSONA_HUSHED"
	ErrSessionArchived    ErrorCode = "SESSION_ARCHIVED"
	ErrConductorPaused    ErrorCode = "CONDUCTOR_PAUSED"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
)

// Gateway error codes
const (
	ErrGatewayAuthentication ErrorCode = "GATEWAY_AUTHENTICATION"
	ErrGatewayRateLimit      ErrorCode = "GATEWAY_RATE_LIMIT"
	ErrGatewayModelNotFound  ErrorCode = "GATEWAY_MODEL_NOT_FOUND"
	ErrGateway               ErrorCode = "GATEWAY_ERROR"
)

// Persistence error codes
const (
	ErrPersistence ErrorCode = "PERSISTENCE_ERROR"
	ErrNotFound    ErrorCode = "NOT_FOUND"
)

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from anywhere in the chain.
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

// IsGatewayError reports whether err originated from the generation gateway.
func IsGatewayError(err error) bool {
	switch GetErrorCode(err) {
	case ErrGatewayAuthentication, ErrGatewayRateLimit, ErrGatewayModelNotFound, ErrGateway:
		return true
	}
	return false
}

// --- 常用错误构造 ---

// NewConfigurationError reports a caller-side setup bug such as a disabled conductor.
func NewConfigurationError(format string, args ...any) *Error {
	return NewError(ErrConfiguration, fmt.Sprintf(format, args...))
}

// NewValidationError reports input or model output that failed validation.
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %q not found", entity, id))
}

// NewPersistenceError wraps a store failure.
func NewPersistenceError(op string, cause error) *Error {
	return NewError(ErrPersistence, op+" failed").WithCause(cause)
}

// NewInvalidRequestError reports a malformed caller request.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message)
}

// WrapError converts an arbitrary error into *Error, keeping existing codes.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}
