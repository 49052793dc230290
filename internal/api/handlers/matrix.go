package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/pipeline"
	"github.com/randytsao24/tournee/internal/registry"
)

type MatrixHandler struct {
	responder
	registry *registry.Registry
	master   MasterProvider
}

func NewMatrixHandler(reg *registry.Registry, master MasterProvider, logger zerolog.Logger) *MatrixHandler {
	return &MatrixHandler{responder: newResponder(logger), registry: reg, master: master}
}

// Status compares the published master with the registry
func (h *MatrixHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := pipeline.Status(h.registry, h.master)
	if errors.Is(err, matrix.ErrNoMaster) {
		h.writeError(w, http.StatusServiceUnavailable, "No master matrix published", err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load master matrix", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"ready":   status.Ready(),
		"master":  status,
	})
}
