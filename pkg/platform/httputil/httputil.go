// Package httputil centralizes JSON response writing so every handler emits
// the same envelopes and error translation stays in one place.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "proofgate/pkg/domain-errors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ErrorResponse is the JSON envelope for all error outcomes.
type ErrorResponse struct {
	Error            string         `json:"error"`
	ErrorDescription string         `json:"error_description,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// WriteError translates a coded error into an HTTP response. Internal errors
// omit the description so infrastructure detail never reaches clients; all
// other codes are client-addressable and include the message and any
// display-safe structured fields.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	var coded *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &coded) {
		resp.ErrorDescription = coded.Message
		resp.Details = coded.Fields
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}
