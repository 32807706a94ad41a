package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"connectsphere/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeCalleeUnreachable  ErrorCode = "CALLEE_UNREACHABLE"
	ErrCodeAlreadyInCall      ErrorCode = "ALREADY_IN_CALL"
	ErrCodeOffline            ErrorCode = "OFFLINE"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMITED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewValidationError(message string) *AppError {
	return NewAppError(ErrCodeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// FromDomain maps the core's sentinel errors onto application codes.
// Errors that are already AppErrors are returned unchanged.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrValidation):
		return WrapError(err, ErrCodeValidation, "malformed event", http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrCalleeUnreachable):
		return WrapError(err, ErrCodeCalleeUnreachable, "user unreachable", http.StatusConflict)
	case stderrors.Is(err, domain.ErrAlreadyInCall):
		return WrapError(err, ErrCodeAlreadyInCall, "a call between these users is already in progress", http.StatusConflict)
	case stderrors.Is(err, domain.ErrInvalidStateTransition):
		return WrapError(err, ErrCodeInvalidState, "call is not in a state that allows this action", http.StatusConflict)
	case stderrors.Is(err, domain.ErrNotParticipant):
		return WrapError(err, ErrCodeForbidden, "not a participant of this call", http.StatusForbidden)
	case stderrors.Is(err, domain.ErrAlreadyBound):
		return WrapError(err, ErrCodeConflict, "connection already joined as another user", http.StatusConflict)
	case stderrors.Is(err, domain.ErrOffline):
		return WrapError(err, ErrCodeOffline, "recipient offline", http.StatusAccepted)
	case stderrors.Is(err, domain.ErrSessionNotFound),
		stderrors.Is(err, domain.ErrConnectionNotFound),
		stderrors.Is(err, domain.ErrUserNotFound),
		stderrors.Is(err, domain.ErrGroupNotFound):
		return WrapError(err, ErrCodeNotFound, err.Error(), http.StatusNotFound)
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
