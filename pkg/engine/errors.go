package engine

import (
	"fmt"
)

// Error is the canonical error surfaced across the engine boundary.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     any       `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrCapability     ErrorType = "capability_error"
	ErrClassifier     ErrorType = "classifier_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewCapabilityError reports that a call's strategy cannot service the
// requested input kind (e.g. audio posted to a webhook-only detector).
// Distinct from not-found so clients can tell the two apart.
func NewCapabilityError(message string) *Error {
	return &Error{
		Type:    ErrCapability,
		Message: message,
	}
}

// NewClassifierError wraps an external classifier failure.
func NewClassifierError(classifier string, underlying error) *Error {
	return &Error{
		Type:    ErrClassifier,
		Message: fmt.Sprintf("%s: %v", classifier, underlying),
		Cause:   underlying.Error(),
	}
}

// NewConflictError reports a store-level concurrent-update conflict.
// WithCall retries these internally; they should not reach clients.
func NewConflictError(message string) *Error {
	return &Error{
		Type:    ErrConflict,
		Message: message,
	}
}

// NewAPIError creates a generic internal error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable returns true if the operation may succeed on retry.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrConflict, ErrRateLimit, ErrAPI:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.Cause.(error); ok {
		return ue
	}
	return nil
}
