package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_ErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeLeaseInfrastructure,
		Message: "lease acquisition failed",
	}

	expected := "lease_infrastructure_error: lease acquisition failed"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := NewAppError(ErrCodeInternalDB, "failed to query notifications", underlying)

	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should reach the wrapped error")
	}

	var target *AppError
	wrapped := fmt.Errorf("reminder pass: %w", appErr)
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find the AppError through wrapping")
	}
	if target.Code != ErrCodeInternalDB {
		t.Errorf("got code %q, want %q", target.Code, ErrCodeInternalDB)
	}
}

func TestAppError_UnwrapNil(t *testing.T) {
	appErr := NewAppError(ErrCodeJobFailed, "digest pass failed", nil)
	if appErr.Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil, got %v", appErr.Unwrap())
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeAuthSecretMissing, http.StatusUnauthorized},
		{ErrCodeAuthSecretMismatch, http.StatusUnauthorized},
		{ErrCodeConflictDedup, http.StatusConflict},
		{ErrCodeUpstreamPush, http.StatusBadGateway},
		{ErrCodeConfigSecretUnset, http.StatusInternalServerError},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrCodeLeaseInfrastructure, http.StatusInternalServerError},
		{ErrCodeJobFailed, http.StatusInternalServerError},
		{ErrorCode("something_unknown"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
