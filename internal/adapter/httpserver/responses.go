// Package httpserver exposes the request surface (C9): RANK, FUSE, INGEST,
// HEALTH, and STATS over HTTP, shaping domain errors into a stable envelope.
package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/fairyhunter13/recrank/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error's Kind to an HTTP status code from the
// closed error-kind set.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindBadInput:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	case domain.KindOverloaded:
		status = http.StatusTooManyRequests
	case domain.KindUpstreamUnavailable:
		status = http.StatusBadGateway
	case domain.KindInferenceError:
		status = http.StatusBadGateway
	case domain.KindServiceUnavailable:
		status = http.StatusServiceUnavailable
	case domain.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: string(kind), Message: err.Error()}})
}
