// Package handlers implements the gateway's HTTP surface: call
// management, provider webhooks, audio ingest and the media-stream
// WebSocket endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/gateway/apierror"
	"github.com/outdial/amd-gateway/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	engErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: engErr})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return engine.NewInvalidRequestError("request body too large")
		}
		return engine.NewInvalidRequestError("invalid JSON body")
	}
	return nil
}

// readBody reads a bounded raw body.
func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, engine.NewInvalidRequestError("request body too large")
		}
		return nil, engine.NewInvalidRequestError("failed to read request body")
	}
	return body, nil
}
