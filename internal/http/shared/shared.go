// Package shared holds the response helpers every HTTP handler uses, so the
// error envelope stays identical across the API surface.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "rollcall/pkg/domain-errors"
)

// ErrorResponse is the wire shape of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError renders a domain error with its mapped status. Details ride
// along so a blocked merge's conflict list reaches the correction UI.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	WriteJSON(w, dErrors.ToHTTPStatus(code), ErrorResponse{
		Code:    string(code),
		Message: err.Error(),
		Details: dErrors.Details(err),
	})
}
