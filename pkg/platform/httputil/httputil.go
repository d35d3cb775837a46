// Package httputil centralizes JSON response writing so every handler and
// middleware emits the same envelope.
package httputil

import (
	"encoding/json"
	"net/http"

	domainerrors "kompetens/pkg/domain-errors"
)

// ErrorResponse is the uniform JSON body for rejected requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// WriteJSON serializes v with the given status. Encoding failures after the
// header is written can only be logged by the caller, so they are ignored here.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded domain error into the standard envelope.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	WriteJSON(w, domainerrors.ToHTTPStatus(code), &ErrorResponse{
		Success: false,
		Error:   domainerrors.MessageOf(err),
		Code:    string(code),
	})
}
