package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Session lifecycle
	ErrCodeDriverInit        ErrorCode = "DRIVER_INIT_ERROR"
	ErrCodeAuthFailure       ErrorCode = "AUTH_FAILURE"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionNotReady   ErrorCode = "SESSION_NOT_READY"
	ErrCodeSessionTerminated ErrorCode = "SESSION_TERMINATED"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeRequestInFlight   ErrorCode = "REQUEST_IN_FLIGHT"

	// Driver and transport
	ErrCodeMediaDownload ErrorCode = "MEDIA_DOWNLOAD_ERROR"
	ErrCodeTransport     ErrorCode = "TRANSPORT_ERROR"
	ErrCodeDriver        ErrorCode = "DRIVER_ERROR"

	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func DriverInit(message string) *AppError {
	return New(ErrCodeDriverInit, message)
}

func AuthFailure(message string) *AppError {
	if message == "" {
		message = "Authentication failed"
	}
	return New(ErrCodeAuthFailure, message)
}

func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out", operation))
}

func SessionNotFound(id string) *AppError {
	return New(ErrCodeSessionNotFound, "Session not found").WithDetails(map[string]string{"sessionId": id})
}

func SessionNotReady(state string) *AppError {
	return New(ErrCodeSessionNotReady, "Session is not connected").WithDetails(map[string]string{"status": state})
}

func SessionTerminated() *AppError {
	return New(ErrCodeSessionTerminated, "Session was terminated")
}

func InvalidTransition(from, event string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("Event %s is not allowed in state %s", event, from))
}

func RequestInFlight(kind string) *AppError {
	return New(ErrCodeRequestInFlight, fmt.Sprintf("A %s request is already in flight for this session", kind))
}

func MediaDownload(cause error) *AppError {
	return Wrap(ErrCodeMediaDownload, "Failed to download media", cause)
}

func Transport(cause error) *AppError {
	return Wrap(ErrCodeTransport, "Driver transport unavailable", cause)
}

func Driver(message string) *AppError {
	return New(ErrCodeDriver, message)
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func PayloadTooLarge() *AppError {
	return New(ErrCodePayloadTooLarge, "Request body too large")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
