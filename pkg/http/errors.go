package http

import (
	"errors"
	"fmt"
	"net/http"

	"InsiderWatch/internal/domain/models"
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// NotFoundErrorf creates a 404 error with formatting.
func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_NOT_FOUND", "", fmt.Sprintf(format, a...), http.StatusNotFound)
}

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", message, http.StatusBadRequest)
}

// TooManyRequestsError is returned while the pipeline sheds load.
func TooManyRequestsError(message string) *AppError {
	return NewAppError("ERR_BACKPRESSURE", "", message, http.StatusTooManyRequests)
}

func UnavailableError(message string) *AppError {
	return NewAppError("ERR_UNAVAILABLE", "", message, http.StatusServiceUnavailable)
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}

// FromDomain maps pipeline errors onto HTTP errors. Unknown errors become 500.
func FromDomain(err error) *AppError {
	var (
		appErr *AppError
		verr   *models.ValidationError
		cerr   *models.ConfigurationError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &verr):
		return NewAppError("ERR_VALIDATION", verr.Field, verr.Reason, http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrAlertNotFound):
		return NewAppError("ERR_NOT_FOUND", "", err.Error(), http.StatusNotFound).WithError(err)
	case errors.Is(err, models.ErrBackpressure):
		return TooManyRequestsError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrClosed), errors.Is(err, models.ErrNotStarted):
		return UnavailableError(err.Error()).WithError(err)
	case errors.As(err, &cerr):
		return NewAppError("ERR_CONFIGURATION", cerr.Key, cerr.Reason, http.StatusUnprocessableEntity).WithError(err)
	}
	return InternalError("internal error").WithError(err)
}
