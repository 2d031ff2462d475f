// Package api implements the Run API Surface (§4.J): the HTTP boundary
// through which tenants trigger runs and poll their progress, steps,
// artifacts, and cache analysis.
package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the uniform JSON error shape every non-2xx response uses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
