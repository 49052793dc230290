package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/matrix"
)

// responder writes JSON bodies and logs what cannot be written
type responder struct {
	logger zerolog.Logger
}

func newResponder(logger zerolog.Logger) responder {
	return responder{logger: logger.With().Str("component", "api").Logger()}
}

func (rs responder) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		rs.logger.Error().Err(err).Int("status", status).Msg("Error encoding JSON response")
	}
}

func (rs responder) writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]any{"error": message}
	if err != nil {
		body["message"] = err.Error()
	}
	rs.writeJSON(w, status, body)
}

// rows renders a matrix as nested arrays in position order
func rows(m *matrix.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, m.Len())
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}
