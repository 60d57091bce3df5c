package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nyakairu/prosa/model"
)

func TestWriteJSON_setsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "def-1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options should be nosniff")
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "def-1" {
		t.Errorf("id = %q, want def-1", body["id"])
	}
}

func TestWriteJSON_nilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", model.NewBadRequestError("bad"), http.StatusBadRequest},
		{"unauthorized", model.NewUnauthorizedError("no"), http.StatusUnauthorized},
		{"forbidden", model.NewForbiddenError("no"), http.StatusForbidden},
		{"not found", model.NewNotFoundError("missing"), http.StatusNotFound},
		{"conflict", model.NewConflictError("dup"), http.StatusConflict},
		{"validation", model.NewValidationMessageError("invalid"), http.StatusUnprocessableEntity},
		{"invalid transition", model.NewInvalidTransitionError("no"), http.StatusUnprocessableEntity},
		{"invalid argument", model.NewInvalidArgumentError("no"), http.StatusBadRequest},
		{"runtime failure", model.NewRuntimeFailureError("engine", errors.New("boom")), http.StatusBadGateway},
		{"engine unavailable", model.NewEngineUnavailableError("open"), http.StatusBadGateway},
		{"internal", model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWriteError_plainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("some internal thing"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Error.Code)
	}
	// The internal message must not leak.
	if body.Error.Message == "some internal thing" {
		t.Error("internal error message leaked to response")
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	wrapped := fmt.Errorf("starting instance: %w", model.NewNotFoundError("definition not found"))

	rec := httptest.NewRecorder()
	WriteError(rec, wrapped)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for wrapped envelope", rec.Code)
	}
}

func TestWriteError_envelopeBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, []model.FieldError{
		{Field: "key", Code: "REQUIRED", Message: "key is required"},
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != model.ErrValidationError {
		t.Errorf("code = %q, want VALIDATION_ERROR", body.Error.Code)
	}
	if len(body.Error.Details) != 1 || body.Error.Details[0].Field != "key" {
		t.Errorf("details = %+v, want one entry for field key", body.Error.Details)
	}
}
