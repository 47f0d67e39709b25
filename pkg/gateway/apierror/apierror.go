package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/outdial/amd-gateway/pkg/engine"
)

type Envelope struct {
	Error *engine.Error `json:"error"`
}

// FromError maps any error to the canonical envelope and HTTP status.
func FromError(err error, requestID string) (*engine.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &engine.Error{
			Type:      engine.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &engine.Error{
			Type:      engine.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var engErr *engine.Error
	if errors.As(err, &engErr) && engErr != nil {
		out := *engErr
		out.RequestID = requestID
		return &out, StatusFromType(engErr.Type)
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &engine.Error{
		Type:      engine.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// StatusFromType maps an error type to its HTTP status.
func StatusFromType(t engine.ErrorType) int {
	switch t {
	case engine.ErrInvalidRequest:
		return http.StatusBadRequest
	case engine.ErrAuthentication:
		return http.StatusUnauthorized
	case engine.ErrNotFound:
		return http.StatusNotFound
	case engine.ErrCapability:
		// Distinguishable from not-found: the call exists but its
		// strategy cannot consume this input kind.
		return http.StatusUnprocessableEntity
	case engine.ErrClassifier:
		return http.StatusBadGateway
	case engine.ErrConflict:
		return http.StatusConflict
	case engine.ErrRateLimit:
		return http.StatusTooManyRequests
	case engine.ErrAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
