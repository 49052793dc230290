package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/extract"
	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/optimizer"
	"github.com/randytsao24/tournee/internal/pipeline"
	"github.com/randytsao24/tournee/internal/registry"
)

// maxManifestBytes bounds the request body of POST /runs
const maxManifestBytes = 1 << 20

type RunHandler struct {
	responder
	runs      RunService
	optimizer pipeline.Optimizer
}

// NewRunHandler creates the runs handler. opt may be nil, in which case
// optimize requests are refused.
func NewRunHandler(runs RunService, opt pipeline.Optimizer, logger zerolog.Logger) *RunHandler {
	return &RunHandler{responder: newResponder(logger), runs: runs, optimizer: opt}
}

// Create reconciles the manifest in the request body and returns the run's
// local matrices. ?optimize=true also runs the optimizer.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	optimize := false
	if raw := r.URL.Query().Get("optimize"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid optimize parameter", err)
			return
		}
		optimize = v
	}
	if optimize && h.optimizer == nil {
		h.writeError(w, http.StatusNotImplemented, "Optimizer not configured", nil)
		return
	}

	manifest, err := registry.ReadManifest(http.MaxBytesReader(w, r.Body, maxManifestBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge, "Manifest too large", err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid manifest", err)
		return
	}
	if len(manifest) == 0 {
		h.writeError(w, http.StatusBadRequest, "Manifest is empty", nil)
		return
	}

	run, err := h.runs.Execute(r.Context(), registry.Names(manifest))
	if err != nil {
		status, message := runErrorStatus(err)
		body := map[string]any{"error": message, "message": err.Error()}
		if run != nil {
			w.Header().Set("X-Run-ID", run.ID.String())
			body["run_id"] = run.ID.String()
			if run.Reconciled != nil {
				body["unmatched"] = run.Reconciled.Unmatched
			}
		}
		h.writeJSON(w, status, body)
		return
	}

	w.Header().Set("X-Run-ID", run.ID.String())
	if optimize {
		if err := h.runs.Optimize(r.Context(), run, h.optimizer); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, optimizer.ErrOptimizerTimeout) {
				status = http.StatusGatewayTimeout
			}
			h.writeError(w, status, "Optimizer failed", err)
			return
		}
	}

	body := map[string]any{
		"success":    true,
		"run_id":     run.ID.String(),
		"summary":    run.Summary(),
		"entries":    run.Reconciled.Entries,
		"unmatched":  run.Reconciled.Unmatched,
		"duplicates": run.Reconciled.Duplicates,
		"distances":  rows(run.Local.Distance),
		"durations":  rows(run.Local.Duration),
	}
	if run.Outputs != nil {
		body["outputs"] = run.Outputs
	}
	if optimize {
		body["route"] = run.Route
	}
	h.writeJSON(w, http.StatusCreated, body)
}

func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, extract.ErrIndexConsistency):
		return http.StatusUnprocessableEntity, "Master matrix out of sync with registry"
	case errors.Is(err, pipeline.ErrNoStops):
		return http.StatusUnprocessableEntity, "No manifest name matched the registry"
	case errors.Is(err, pipeline.ErrRegistryDrift):
		return http.StatusConflict, "Master matrix acquired for a different registry"
	case errors.Is(err, matrix.ErrNoMaster):
		return http.StatusServiceUnavailable, "No master matrix published"
	default:
		return http.StatusInternalServerError, "Run failed"
	}
}
