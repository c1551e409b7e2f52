package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as a JSON response with the given status code,
// setting Content-Type before the status line per net/http's
// write-header-once rule.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorResponse with the given status code.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Message: message})
}

// ApplyDefaults fills unset PolicyRequest fields with the documented
// defaults (spec.md §3) and returns the result; it does not mutate p.
func (p PolicyRequest) ApplyDefaults() PolicyRequest {
	out := p
	if out.DefaultExpirationInSeconds == 0 {
		out.DefaultExpirationInSeconds = 60
	}
	if out.DefaultExpirationExtensionOnErrorInSeconds == 0 {
		out.DefaultExpirationExtensionOnErrorInSeconds = 3600
	}
	if !out.EncryptSet {
		out.Encrypt = true
	}
	return out
}
