// Package httputil centralizes JSON response writing so every handler emits the
// same envelope.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "titledeed/pkg/domain-errors"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope:
//
//	{"error": "<code>", "error_description": "<message>", ...details}
//
// Internal errors never carry a description. Details attached with
// dErrors.WithDetails are merged into the envelope; the underlying cause is
// never serialized.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": string(dErrors.CodeInternal)}

	if de, ok := dErrors.As(err); ok {
		status = dErrors.ToHTTPStatus(de.Code)
		body["error"] = string(de.Code)
		if de.Code != dErrors.CodeInternal && de.Message != "" {
			body["error_description"] = de.Message
		}
		for k, v := range de.Details {
			if k == "error" || k == "error_description" {
				continue
			}
			body[k] = v
		}
	}

	WriteJSON(w, status, body)
}
