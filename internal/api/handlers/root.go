package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
)

type RootHandler struct {
	responder
}

func NewRootHandler(logger zerolog.Logger) *RootHandler {
	return &RootHandler{responder: newResponder(logger)}
}

func (h *RootHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"name":        "tournee",
		"description": "Distance and duration matrices for delivery rounds",
		"version":     version,
		"endpoints": map[string]string{
			"GET /api":            "API information",
			"GET /health":         "Health check",
			"GET /registry":       "Registry size, depot and fingerprint",
			"GET /matrix/status":  "Published master matrix against the registry",
			"POST /runs":          "Reconcile a manifest (CSV body) and extract its matrices",
			"POST /runs?optimize": "Same, then run the route optimizer",
		},
	})
}

func (h *RootHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, map[string]any{
		"error":   "Route not found",
		"message": "Check /api for available routes",
	})
}
