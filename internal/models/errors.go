package models

import "net/http"

// Error codes carried in AppError.Code.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeBadRequest = "BAD_REQUEST"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL"
)

// AppError is a structured API error with its HTTP status code.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: CodeNotFound, Message: msg, Status: http.StatusNotFound}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: msg, Status: http.StatusBadRequest}
}

// ErrBadField reports an invalid value for one request field.
func ErrBadField(field, msg string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: msg, Field: field, Status: http.StatusBadRequest}
}

// ErrConflict is used when the tuning port is owned by a running pass.
func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: http.StatusConflict}
}

func ErrInternal(msg string) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: http.StatusInternalServerError}
}
