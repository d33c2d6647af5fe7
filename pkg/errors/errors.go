package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound             = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation           = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrUnprocessable        = NewError("RULE_REJECTED", "rule rejected by validator", http.StatusUnprocessableEntity)
	ErrCollectorUnavailable = NewError("COLLECTOR_UNAVAILABLE", "collector unavailable", http.StatusServiceUnavailable)
	ErrInternal             = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

// Error is a coded application error that knows how to render itself
// as an HTTP status and JSON body.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	err := *e
	err.Message = fmt.Sprintf(format, args...)
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(err.Details)+1)
	for k, v := range err.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func IsNotFound(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrNotFound.Code
	}
	return false
}

func IsCollectorUnavailable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCollectorUnavailable.Code
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err).WithMessage("%v", err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
