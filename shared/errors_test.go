package shared

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewServiceUnavailableError(cause, "Service temporarily unavailable. Please try again later.", nil)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetAppErrorThroughWrapping(t *testing.T) {
	inner := NewTooManyRequestsError(nil, "Too many requests. Please slow down.", nil)
	wrapped := fmt.Errorf("handler: %w", inner)

	appErr, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorConstructorsCarryStatus(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{NewBadRequestError(nil, "bad"), http.StatusBadRequest},
		{NewUnauthorizedError(nil, "unauthorized"), http.StatusUnauthorized},
		{NewForbiddenError(nil, "forbidden", nil), http.StatusForbidden},
		{NewNotFoundError(nil, "missing"), http.StatusNotFound},
		{NewTooManyRequestsError(nil, "slow down", nil), http.StatusTooManyRequests},
		{NewServiceUnavailableError(nil, "later", nil), http.StatusServiceUnavailable},
		{NewInternalError(nil, "oops"), http.StatusInternalServerError},
		{NewUpstreamTimeoutError(nil), http.StatusGatewayTimeout},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.status, tc.err.StatusCode)
	}
}
