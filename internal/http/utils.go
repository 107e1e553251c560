package http

import (
	"encoding/json"
	"net/http"
)

// WriteJSONError writes a JSON error response with the given message and status code,
// formatted as {"error": true, "message": "..."}.
func WriteJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]interface{}{
		"error":   true,
		"message": message,
	})
}

// writeJSON writes a JSON response with the given status code and data.
// It sets the Content-Type header to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
