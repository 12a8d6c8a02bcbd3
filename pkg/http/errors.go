package http

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is an error a handler answers with: a stable code for clients, a
// readable message and the HTTP status. Err is logged, never serialized.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
	// RetryAfter, when set, is sent as the Retry-After header in whole seconds.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithError attaches the cause.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

func newAppError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func BadRequestError(message string) *AppError {
	return newAppError("ERR_BAD_REQUEST", http.StatusBadRequest, message)
}

// NotFoundError is used for unknown symbols.
func NotFoundError(message string) *AppError {
	return newAppError("ERR_NOT_FOUND", http.StatusNotFound, message)
}

// TooManyRequestsError is answered when a caller exceeds the local request budget.
func TooManyRequestsError(message string) *AppError {
	return newAppError("ERR_RATE_LIMITED", http.StatusTooManyRequests, message).WithRetryAfter(time.Second)
}

func InternalError(message string) *AppError {
	return newAppError("ERR_INTERNAL", http.StatusInternalServerError, message)
}

// ServiceUnavailableError reports that the upstream provider could not answer.
func ServiceUnavailableError(message string) *AppError {
	return newAppError("ERR_UNAVAILABLE", http.StatusServiceUnavailable, message)
}
