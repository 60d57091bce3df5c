package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInvalidArgument = "INVALID_ARGUMENT"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Lifecycle and engine error codes.
const (
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrRuntimeFailure    = "RUNTIME_FAILURE"
	ErrEngineUnavailable = "ENGINE_UNAVAILABLE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	// Cause holds the underlying error for RUNTIME_FAILURE envelopes. It is
	// preserved for logging and errors.Is/As chains, never serialized.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *ErrorEnvelope) Unwrap() error {
	return e.Cause
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewValidationMessageError returns a VALIDATION_ERROR carrying a single
// message and no field-level details.
func NewValidationMessageError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationError, Message: msg}
}

// NewInvalidArgumentError returns an INVALID_ARGUMENT error.
func NewInvalidArgumentError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidArgument, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewRuntimeFailureError returns a RUNTIME_FAILURE error wrapping the
// underlying engine-call error. The cause is preserved for unwrapping.
func NewRuntimeFailureError(msg string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRuntimeFailure, Message: msg, Cause: cause}
}

// NewEngineUnavailableError returns an ENGINE_UNAVAILABLE error.
func NewEngineUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrEngineUnavailable, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
