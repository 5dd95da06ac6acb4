// Package shared centralizes JSON response envelopes so every handler maps
// domain errors to HTTP the same way.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
)

// WriteJSON encodes the payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError translates a domain error into the JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":             string(code),
		"error_description": err.Error(),
	})
}
