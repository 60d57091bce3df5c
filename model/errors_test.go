package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	err := NewNotFoundError("definition \"abc\" not found")
	want := "NOT_FOUND: definition \"abc\" not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorEnvelope_causePreserved(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewRuntimeFailureError("engine deploy failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if err.Code != ErrRuntimeFailure {
		t.Errorf("code = %s, want %s", err.Code, ErrRuntimeFailure)
	}
}

func TestErrorEnvelope_asEnvelope(t *testing.T) {
	var err error = NewConflictError("version already deployed")

	var envErr *ErrorEnvelope
	if !errors.As(err, &envErr) {
		t.Fatal("errors.As should match *ErrorEnvelope")
	}
	if envErr.Code != ErrConflict {
		t.Errorf("code = %s", envErr.Code)
	}
}

func TestNewValidationError_details(t *testing.T) {
	err := NewValidationError([]FieldError{
		{Field: "key", Code: "REQUIRED", Message: "key is required"},
	})
	if err.Code != ErrValidationError {
		t.Errorf("code = %s", err.Code)
	}
	if len(err.Details) != 1 || err.Details[0].Field != "key" {
		t.Errorf("details = %+v", err.Details)
	}
}
