// Package errors provides unified error handling for the dispatch service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a member of the closed set of error codes the wire layer may return.
type ErrorCode string

const (
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeResourceMissing ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeRiskPaused      ErrorCode = "RISK_PAUSED"
	ErrCodeSessionInvalid  ErrorCode = "SESSION_INVALID"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is a structured error carrying a closed code, a message, and the
// HTTP status the wire layer should map it to.
type ServiceError struct {
	Code       ErrorCode              `json:"errorCode"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a diagnostic key/value to the error and returns it for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeResourceMissing, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func InvalidRequest(field, reason string) *ServiceError {
	return New(ErrCodeInvalidRequest, "invalid request", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func InvalidState(message string) *ServiceError {
	return New(ErrCodeInvalidState, message, http.StatusBadRequest)
}

func RateLimited(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// RiskPaused reports that the Risk Oracle currently vetoes execution for an account.
func RiskPaused(reason string) *ServiceError {
	return New(ErrCodeRiskPaused, "execution is currently paused for this account", http.StatusServiceUnavailable).
		WithDetails("reason", reason)
}

func SessionInvalid(message string) *ServiceError {
	return New(ErrCodeSessionInvalid, message, http.StatusConflict)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError reports whether err (or something it wraps) is a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from an error chain, if present.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status an error should be reported with.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
