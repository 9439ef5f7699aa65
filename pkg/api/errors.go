package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeServerError     ErrorType = "server_error"
)

// APIError represents a structured API error with type, code, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`

	// cause is the sentinel or wrapped error that produced this error.
	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.cause
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

func newError(t ErrorType, code string, cause error, message string) *APIError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &APIError{Type: t, Code: code, Message: message, cause: cause}
}

// NewInvalidRequestError classifies cause as a malformed client request.
func NewInvalidRequestError(code string, cause error) *APIError {
	return newError(ErrorTypeInvalidRequest, code, cause, "")
}

// NewUnauthorizedError classifies cause as an authentication failure.
// The message is kept generic; the cause stays available through Unwrap.
func NewUnauthorizedError(code string, cause error) *APIError {
	return newError(ErrorTypeUnauthorized, code, cause, "authentication failed")
}

// NewServerError classifies cause as an infrastructure failure.
func NewServerError(code string, cause error) *APIError {
	return newError(ErrorTypeServerError, code, cause, "internal server error")
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return newError(ErrorTypeNotFound, "", nil, message)
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return newError(ErrorTypeTooManyRequests, "", nil, message)
}

// AsAPIError returns err as an *APIError. Errors that are not classified
// become unauthorized errors, so an unknown failure never grants access
// or leaks detail.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewUnauthorizedError("", err)
}
