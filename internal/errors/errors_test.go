package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeSessionNotFound, "Session not found")
		assert.Equal(t, "SESSION_NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Transport(cause)
		assert.Contains(t, err.Error(), "TRANSPORT_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "contactId"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"DriverInit", func() *AppError { return DriverInit("browser crashed") }, ErrCodeDriverInit},
		{"AuthFailure", func() *AppError { return AuthFailure("") }, ErrCodeAuthFailure},
		{"Timeout", func() *AppError { return Timeout("get contacts") }, ErrCodeTimeout},
		{"SessionNotFound", func() *AppError { return SessionNotFound("abc") }, ErrCodeSessionNotFound},
		{"SessionNotReady", func() *AppError { return SessionNotReady("awaiting_scan") }, ErrCodeSessionNotReady},
		{"SessionTerminated", func() *AppError { return SessionTerminated() }, ErrCodeSessionTerminated},
		{"InvalidTransition", func() *AppError { return InvalidTransition("initializing", "ready") }, ErrCodeInvalidTransition},
		{"RequestInFlight", func() *AppError { return RequestInFlight("contacts") }, ErrCodeRequestInFlight},
		{"MediaDownload", func() *AppError { return MediaDownload(errors.New("eof")) }, ErrCodeMediaDownload},
		{"Transport", func() *AppError { return Transport(errors.New("closed")) }, ErrCodeTransport},
		{"Driver", func() *AppError { return Driver("chat not found") }, ErrCodeDriver},
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"MissingRequired", func() *AppError { return MissingRequired("ownerId") }, ErrCodeMissingRequired},
		{"PayloadTooLarge", func() *AppError { return PayloadTooLarge() }, ErrCodePayloadTooLarge},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestIs(t *testing.T) {
	t.Run("matches code through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("list contacts: %w", Timeout("get contacts"))
		assert.True(t, Is(err, ErrCodeTimeout))
		assert.False(t, Is(err, ErrCodeSessionNotFound))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		assert.False(t, Is(errors.New("boom"), ErrCodeTimeout))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := SessionNotFound("abc")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		assert.Equal(t, ErrCodeTimeout, GetCode(Timeout("x")))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
	})
}

func TestAuthFailureMessage(t *testing.T) {
	assert.Equal(t, "Authentication failed", AuthFailure("").Message)
	assert.Equal(t, "scan rejected", AuthFailure("scan rejected").Message)
}
