// Package handlers contains HTTP request handlers
package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/pipeline"
	"github.com/randytsao24/tournee/internal/registry"
)

const version = "1.0.0"

// HealthHandler reports liveness plus whether runs can be served: the
// registry size and the state of the published master.
type HealthHandler struct {
	responder
	registry  *registry.Registry
	master    MasterProvider
	startTime time.Time
}

func NewHealthHandler(reg *registry.Registry, master MasterProvider, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		responder: newResponder(logger),
		registry:  reg,
		master:    master,
		startTime: time.Now(),
	}
}

// Health always answers 200 while the process is up. status is "DEGRADED"
// when the master is missing or does not cover the registry.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	master := map[string]any{"ready": false}
	status, err := pipeline.Status(h.registry, h.master)
	if err != nil {
		master["error"] = err.Error()
	} else {
		master["ready"] = status.Ready()
		master["locations"] = status.Locations
		master["fingerprint_match"] = status.FingerprintMatch
	}

	overall := "OK"
	if master["ready"] != true {
		overall = "DEGRADED"
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
		"uptime":    time.Since(h.startTime).String(),
		"registry":  map[string]any{"locations": h.registry.Len()},
		"master":    master,
	})
}
