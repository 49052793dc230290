package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/registry"
)

type RegistryHandler struct {
	responder
	registry *registry.Registry
}

func NewRegistryHandler(reg *registry.Registry, logger zerolog.Logger) *RegistryHandler {
	return &RegistryHandler{responder: newResponder(logger), registry: reg}
}

// Info returns the registry's size, depot and fingerprint
func (h *RegistryHandler) Info(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"success":     true,
		"count":       h.registry.Len(),
		"dropped":     h.registry.Dropped(),
		"has_depot":   h.registry.HasDepot(),
		"fingerprint": h.registry.Fingerprint(),
	}
	if depot, ok := h.registry.Depot(); ok {
		body["depot"] = depot
	}
	h.writeJSON(w, http.StatusOK, body)
}
