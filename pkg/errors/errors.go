package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType classifies a failure. Boundaries translate types to HTTP
// status codes; startup types abort the process instead.
type ErrorType string

const (
	// Startup errors. These abort the process before serving traffic.
	ErrorTypeConfig  ErrorType = "CONFIG"
	ErrorTypeUnbound ErrorType = "UNBOUND"
	ErrorTypeCycle   ErrorType = "CYCLE"

	// Request errors
	ErrorTypeValidation         ErrorType = "VALIDATION"
	ErrorTypeForbiddenStatement ErrorType = "FORBIDDEN_STATEMENT"
	ErrorTypeQueryInvalid       ErrorType = "QUERY_INVALID"
	ErrorTypeNotFound           ErrorType = "NOT_FOUND"
	ErrorTypeConflict           ErrorType = "CONFLICT"

	// Infrastructure errors
	ErrorTypeBackendUnavailable ErrorType = "BACKEND_UNAVAILABLE"
	ErrorTypeTimeout            ErrorType = "TIMEOUT"
	ErrorTypeCacheCorrupt       ErrorType = "CACHE_CORRUPT"
	ErrorTypeInternal           ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// Constructor functions for the failure taxonomy

// NewConfigError reports a malformed descriptor, missing environment
// variable, or any other startup configuration fault.
func NewConfigError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConfig,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewUnboundError reports a capability name with no registered provider.
func NewUnboundError(capability string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnbound,
		Message:    fmt.Sprintf("capability %q is not bound", capability),
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewCycleError reports a circular capability dependency. The path lists
// the capability names along the cycle, resolution order first.
func NewCycleError(path []string) *AppError {
	return &AppError{
		Type:       ErrorTypeCycle,
		Message:    fmt.Sprintf("capability dependency cycle: %s", strings.Join(path, " -> ")),
		Details:    map[string]interface{}{"path": path},
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewForbiddenStatementError reports a SQL statement rejected by the
// read-only guard before it reached any backend.
func NewForbiddenStatementError(keyword string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbiddenStatement,
		Message:    fmt.Sprintf("statement rejected: %s is not allowed, only SELECT and WITH are accepted", keyword),
		Details:    map[string]interface{}{"keyword": keyword},
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewQueryInvalidError reports a backend syntax or constraint failure.
// The backend's own message is preserved verbatim in the details.
func NewQueryInvalidError(backendMessage string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeQueryInvalid,
		Message:    "query rejected by backend",
		Details:    map[string]interface{}{"backend_message": backendMessage},
		Cause:      cause,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewBackendUnavailableError reports an exhausted retry budget against a
// data backend.
func NewBackendUnavailableError(backend string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeBackendUnavailable,
		Message:    fmt.Sprintf("backend %q is unavailable", backend),
		Cause:      cause,
		HTTPStatus: http.StatusServiceUnavailable,
		StackTrace: captureStackTrace(),
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation %q timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
		StackTrace: captureStackTrace(),
	}
}

// NewCacheCorruptError reports an unreadable persisted graph. Callers are
// expected to recover by rebuilding; the type never reaches a client.
func NewCacheCorruptError(kind, id string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeCacheCorrupt,
		Message:    fmt.Sprintf("cached graph %s/%s is corrupt", kind, id),
		Details:    map[string]interface{}{"kind": kind, "id": id},
		Cause:      cause,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsConfig checks if an error is a startup configuration error
func IsConfig(err error) bool {
	return IsType(err, ErrorTypeConfig)
}

// IsUnbound checks if an error is a missing-binding error
func IsUnbound(err error) bool {
	return IsType(err, ErrorTypeUnbound)
}

// IsCycle checks if an error is a dependency-cycle error
func IsCycle(err error) bool {
	return IsType(err, ErrorTypeCycle)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsForbiddenStatement checks if an error came from the read-only guard
func IsForbiddenStatement(err error) bool {
	return IsType(err, ErrorTypeForbiddenStatement)
}

// IsQueryInvalid checks if an error is a backend query rejection
func IsQueryInvalid(err error) bool {
	return IsType(err, ErrorTypeQueryInvalid)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsBackendUnavailable checks if an error is a backend availability error
func IsBackendUnavailable(err error) bool {
	return IsType(err, ErrorTypeBackendUnavailable)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsCacheCorrupt checks if an error is a cache corruption error
func IsCacheCorrupt(err error) bool {
	return IsType(err, ErrorTypeCacheCorrupt)
}

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool {
	return IsType(err, ErrorTypeInternal)
}

// IsStartup reports whether the error belongs to the startup family that
// aborts the process rather than surfacing over HTTP.
func IsStartup(err error) bool {
	return IsConfig(err) || IsUnbound(err) || IsCycle(err)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
