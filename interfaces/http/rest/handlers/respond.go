// Package handlers implements the platform's HTTP endpoints: the module
// manifest, the conversational assistant, and the knowledge graph. Handlers
// depend on narrow interfaces over the application layer and push every
// failure through the shared error boundary.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// writeJSON sends a JSON response with the given status
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
