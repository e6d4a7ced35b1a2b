// Package api provides shared HTTP helpers and the service-level routes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/smartrecall/internal/health"
)

// Handler serves the health routes.
type Handler struct {
	health *health.Aggregator
}

// NewHandler creates a Handler backed by agg.
func NewHandler(agg *health.Aggregator) *Handler {
	return &Handler{health: agg}
}

// RegisterRoutes mounts GET /health and GET /health/ready.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", health.LivenessHandler())
	r.Get("/health/ready", health.ReadinessHandler(h.health))
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
