// Package httputil centralizes JSON response and error envelope helpers so
// every handler speaks the same wire format.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "escrowd/pkg/domain-errors"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorEnvelope is the uniform error body. Description is omitted for
// internal errors so infrastructure details never leak to callers.
type errorEnvelope struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError translates a domain error into the JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	env := errorEnvelope{Error: string(code)}
	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		env.Description = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), env)
}
