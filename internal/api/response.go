package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes payload as a JSON response with the given status.
// A nil payload writes the status only.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	// Headers are already flushed; an encode failure can only be logged
	// by the caller's middleware.
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSONError writes a JSON error body {"error": message}.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
