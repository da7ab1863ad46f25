package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrInvalidInput, ErrUnauthorized, ErrForbidden,
		ErrInternal, ErrConflict, ErrServiceUnavail,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	withInner := &AppError{Code: "INTERNAL_ERROR", Message: "cart fetch failed", Err: inner}
	assert.Contains(t, withInner.Error(), "INTERNAL_ERROR")
	assert.Contains(t, withInner.Error(), "connection reset")

	bare := &AppError{Code: "NOT_FOUND", Message: "cart item not found"}
	assert.Equal(t, "NOT_FOUND: cart item not found", bare.Error())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("cart item", "7"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"invalid input", InvalidInput("quantity must be positive"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", Unauthorized("session expired"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("not your cart"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
		{"conflict", Conflict("cart modified"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"unavailable", Unavailable("cart api down"), "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrServiceUnavail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestInternal_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Internal(cause)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.True(t, errors.Is(err, cause))
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, IsUnauthorized(Unauthorized("expired")))
	assert.True(t, IsUnauthorized(fmt.Errorf("set quantity: %w", Unauthorized("expired"))))
	assert.True(t, IsUnauthorized(Forbidden("other user")))
	assert.False(t, IsUnauthorized(Unavailable("down")))
	assert.False(t, IsUnauthorized(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, IsUnauthorized(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, HTTPStatus(fmt.Errorf("wrapped: %w", Forbidden("nope"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal(ErrNotFound)), "the AppError status wins over its cause")
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("cart", "u1")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(fmt.Errorf("wrapped: %w", ErrUnauthorized)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrServiceUnavail))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("boom")))
}
