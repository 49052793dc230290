package geo

import (
	"context"
	"fmt"

	"github.com/randytsao24/tournee/internal/models"
)

// DefaultDetourFactor approximates road distance from straight-line distance
const DefaultDetourFactor = 1.3

// Estimator answers matrix requests from coordinates alone. Distances are
// great-circle meters scaled by a detour factor; durations assume a constant
// average speed.
type Estimator struct {
	SpeedKmh     float64
	DetourFactor float64
}

// NewEstimator creates an estimator for the given average speed
func NewEstimator(speedKmh float64) *Estimator {
	return &Estimator{SpeedKmh: speedKmh, DetourFactor: DefaultDetourFactor}
}

// Name identifies the provider in snapshots and logs
func (e *Estimator) Name() string {
	return "haversine"
}

// Matrix computes the requested block. It never fails for valid indices.
func (e *Estimator) Matrix(ctx context.Context, req models.MatrixRequest) (models.MatrixResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.MatrixResponse{}, err
	}
	if e.SpeedKmh <= 0 {
		return models.MatrixResponse{}, fmt.Errorf("average speed must be positive, got %v", e.SpeedKmh)
	}
	detour := e.DetourFactor
	if detour <= 0 {
		detour = 1
	}

	sources, err := indices(req.Sources, len(req.Locations))
	if err != nil {
		return models.MatrixResponse{}, fmt.Errorf("sources: %w", err)
	}
	destinations, err := indices(req.Destinations, len(req.Locations))
	if err != nil {
		return models.MatrixResponse{}, fmt.Errorf("destinations: %w", err)
	}

	resp := models.MatrixResponse{
		Distances: make([][]float64, len(sources)),
		Durations: make([][]float64, len(sources)),
	}
	for i, s := range sources {
		from := req.Locations[s]
		resp.Distances[i] = make([]float64, len(destinations))
		resp.Durations[i] = make([]float64, len(destinations))
		for j, d := range destinations {
			if s == d {
				continue
			}
			to := req.Locations[d]
			meters := Haversine(from.Lat(), from.Lng(), to.Lat(), to.Lng()) * detour
			resp.Distances[i][j] = meters
			resp.Durations[i][j] = TravelSeconds(meters, e.SpeedKmh)
		}
	}
	return resp, nil
}

// indices expands an empty list to all n locations and checks bounds
func indices(list []int, n int) ([]int, error) {
	if len(list) == 0 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	for _, i := range list {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("index %d outside [0,%d)", i, n)
		}
	}
	return list, nil
}
