package handlers

import (
	"net/http"
	"time"
)

// Health reports service liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "Heliox API",
		"version":   "2.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
