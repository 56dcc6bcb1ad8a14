package common

import (
	"errors"
	"net/http"
)

// Machine-readable error codes surfaced to clients in REST responses and
// realtime acknowledgements.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeRideTaken           = "RIDE_TAKEN"
	CodeDomainRule          = "DOMAIN_RULE"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInvalidOTP          = "INVALID_OTP"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeExternalUnavailable = "EXTERNAL_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

// Common sentinel errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("resource conflict")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// AppError is an application error carrying an HTTP status and a
// machine-readable code alongside the human-readable message.
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError with an explicit status and code.
func NewAppError(status int, errorCode, message string, err error) *AppError {
	return &AppError{Code: status, ErrorCode: errorCode, Message: message, Err: err}
}

// NewValidationError reports malformed or missing input.
func NewValidationError(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, ErrorCode: CodeInvalidInput, Message: message}
}

// NewUnauthorizedError reports a missing or invalid session.
func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, ErrorCode: CodeUnauthenticated, Message: message, Err: ErrUnauthorized}
}

// NewForbiddenError reports an authenticated caller lacking permission.
func NewForbiddenError(message string) *AppError {
	return &AppError{Code: http.StatusForbidden, ErrorCode: CodeUnauthorized, Message: message}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(message string, err error) *AppError {
	return &AppError{Code: http.StatusNotFound, ErrorCode: CodeNotFound, Message: message, Err: err}
}

// NewConflictError reports a state conflict such as a lost acceptance race
// or a duplicate key. errorCode is CodeConflict or a more specific code
// like CodeRideTaken.
func NewConflictError(errorCode, message string) *AppError {
	if errorCode == "" {
		errorCode = CodeConflict
	}
	return &AppError{Code: http.StatusConflict, ErrorCode: errorCode, Message: message, Err: ErrConflict}
}

// NewUnprocessableError reports a domain rule violation such as an
// insufficient balance or a wrong OTP.
func NewUnprocessableError(errorCode, message string) *AppError {
	if errorCode == "" {
		errorCode = CodeDomainRule
	}
	return &AppError{Code: http.StatusUnprocessableEntity, ErrorCode: errorCode, Message: message}
}

// NewServiceUnavailableError reports a store outage that survived the retry.
func NewServiceUnavailableError(message string, err error) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, ErrorCode: CodeStoreUnavailable, Message: message, Err: err}
}

// NewInternalError reports an unexpected failure.
func NewInternalError(message string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, ErrorCode: CodeInternal, Message: message, Err: err}
}
