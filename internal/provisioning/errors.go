package provisioning

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrRadioInit is returned by Start when the access point cannot be raised.
	ErrRadioInit = errors.New("provisioning: radio init failed")

	// ErrServerStart is returned by Start when the HTTP listener cannot be opened.
	ErrServerStart = errors.New("provisioning: server start failed")
)

// Error codes of the HTTP API.
const (
	ErrCodeMissingFields = "missing_fields"
	ErrCodeInvalidJSON   = "invalid_json"
	ErrCodeSaveFailed    = "save_failed"
	ErrCodeScanFailed    = "scan_failed"
	ErrCodeCacheBusy     = "cache_busy"
	ErrCodeInternal      = "internal_error"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error         string   `json:"error"`
	Message       string   `json:"message,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes an error body.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeMissingFields writes the 400 listing absent credential fields.
func writeMissingFields(w http.ResponseWriter, missing []string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrCodeMissingFields, MissingFields: missing})
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
