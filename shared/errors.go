package shared

import (
	"errors"
	"net/http"
)

// AppError carries an HTTP status plus a client-safe message. Internal error
// detail stays in Err for logging and is never rendered to the client.
type AppError struct {
	StatusCode int
	Message    string
	Data       interface{}
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(statusCode int, err error, message string, data interface{}) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Message:    message,
		Data:       data,
		Err:        err,
	}
}

func NewBadRequestError(err error, message string) *AppError {
	return NewAppError(http.StatusBadRequest, err, message, nil)
}

func NewUnauthorizedError(err error, message string) *AppError {
	return NewAppError(http.StatusUnauthorized, err, message, nil)
}

func NewForbiddenError(err error, message string, data interface{}) *AppError {
	return NewAppError(http.StatusForbidden, err, message, data)
}

func NewNotFoundError(err error, message string) *AppError {
	return NewAppError(http.StatusNotFound, err, message, nil)
}

func NewTooManyRequestsError(err error, message string, data interface{}) *AppError {
	return NewAppError(http.StatusTooManyRequests, err, message, data)
}

func NewServiceUnavailableError(err error, message string, data interface{}) *AppError {
	return NewAppError(http.StatusServiceUnavailable, err, message, data)
}

func NewInternalError(err error, message string) *AppError {
	return NewAppError(http.StatusInternalServerError, err, message, nil)
}

// NewUpstreamTimeoutError maps an upstream collaborator timeout to a distinct
// retryable status so clients can tell "try again" apart from a hard failure.
func NewUpstreamTimeoutError(err error) *AppError {
	return NewAppError(http.StatusGatewayTimeout, err,
		"The assistant took too long to respond. Please try again.", nil)
}

func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
