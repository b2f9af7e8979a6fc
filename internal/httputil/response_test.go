package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
)

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.ErrCodeSessionNotFound, http.StatusNotFound},
		{apperrors.ErrCodeTimeout, http.StatusGatewayTimeout},
		{apperrors.ErrCodeSessionTerminated, http.StatusGone},
		{apperrors.ErrCodeSessionNotReady, http.StatusConflict},
		{apperrors.ErrCodeDriverInit, http.StatusBadGateway},
		{apperrors.ErrCodeTransport, http.StatusBadGateway},
		{apperrors.ErrCodeAuthFailure, http.StatusUnprocessableEntity},
		{apperrors.ErrCodeValidation, http.StatusBadRequest},
		{apperrors.ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{apperrors.ErrCodeDatabase, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFromCode(tc.code))
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("writes app error body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.Timeout("get contacts"))

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, apperrors.ErrCodeTimeout, body.Code)
		assert.Equal(t, "get contacts timed out", body.Error)
	})

	t.Run("hides unknown errors", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("pq: relation does not exist"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "relation")
	})
}
