package api

import (
	"fmt"
	"net/http"
)

// ApiError is the JSON error envelope for the HTTP surface. Err carries
// the underlying cause for logs and never reaches the client.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func NewBadRequestError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

// NewNotFoundError names the missing resource ("room", "track", ...) so
// a client can tell a dead room link from a bad track id.
func NewNotFoundError(resource string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    resource + " not found",
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    "internal server error",
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    "unauthorized",
	}
}

func NewForbiddenError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    message,
	}
}
