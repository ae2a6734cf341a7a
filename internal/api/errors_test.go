package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_apiError(t *testing.T) {
	t.Run("wrapped cause stays out of the envelope", func(t *testing.T) {
		cause := errors.New("connection refused")
		apiErr := NewInternalServerError(cause)

		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, "internal server error", apiErr.Message, "expected the cause hidden from clients")
		assert.Equal(t, "internal server error: connection refused", apiErr.Error(), "expected the cause in logs")
		assert.ErrorIs(t, apiErr, cause, "expected the cause to unwrap")
	})

	t.Run("not found names the resource", func(t *testing.T) {
		assert.Equal(t, "room not found", NewNotFoundError("room").Message)
		assert.Equal(t, "track not found", NewNotFoundError("track").Message)
		assert.Equal(t, http.StatusNotFound, NewNotFoundError("room").StatusCode)
	})

	t.Run("client errors carry their message", func(t *testing.T) {
		assert.Equal(t, "room name is required", NewBadRequestError("room name is required").Error())
		assert.Equal(t, http.StatusForbidden, NewForbiddenError("only the host may delete a room").StatusCode)
	})
}
