// Package apperrors defines the error kinds the payment handlers return and
// the HTTP status each one maps to.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation_error"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeUpstream     ErrorType = "upstream_error"
	ErrorTypeInternal     ErrorType = "internal_error"
)

// AppError is an error with a caller-facing message and an HTTP status.
// Err keeps the underlying cause for logs and is never rendered.
type AppError struct {
	Type         ErrorType
	Message      string
	Code         int
	Details      string
	UpstreamCode string
	Err          error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a 400 error for bad or missing input
func NewValidationError(message string, details ...string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message, details)
}

// NewUnauthorizedError creates a 401 error
func NewUnauthorizedError(message string, details ...string) *AppError {
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, message, details)
}

// NewNotFoundError creates a 404 error
func NewNotFoundError(message string, details ...string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message, details)
}

// NewConflictError creates a 409 error
func NewConflictError(message string, details ...string) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message, details)
}

// NewUpstreamError creates a 502 error carrying the gateway's own diagnostic code
func NewUpstreamError(upstreamCode, message, detail string) *AppError {
	e := newError(ErrorTypeUpstream, http.StatusBadGateway, message, []string{detail})
	e.UpstreamCode = upstreamCode
	return e
}

// NewInternalError creates a 500 error. cause is logged, never shown to callers.
func NewInternalError(message string, cause error) *AppError {
	e := newError(ErrorTypeInternal, http.StatusInternalServerError, message, nil)
	e.Err = cause
	return e
}

func newError(t ErrorType, code int, message string, details []string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    t,
		Message: message,
		Code:    code,
		Details: detail,
	}
}

// GetAppError extracts an AppError from err, if any
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err is an AppError of type t
func IsType(err error, t ErrorType) bool {
	appErr, ok := GetAppError(err)
	return ok && appErr.Type == t
}

// Wrap converts err into an AppError, keeping it unchanged if it already is one
func Wrap(err error, message string) *AppError {
	if appErr, ok := GetAppError(err); ok {
		return appErr
	}
	return NewInternalError(message, err)
}
