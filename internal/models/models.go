// Package models defines shared data types
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Location is one registry entry: a delivery point with its stable key.
// Index 0 is reserved for the depot.
type Location struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	PostalCode string  `json:"postal_code"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// IsDepot reports whether the location is the fixed origin of every round
func (l Location) IsDepot() bool {
	return l.Index == DepotIndex
}

// DepotIndex is the registry key reserved for the depot
const DepotIndex = 0

// ManifestRow is one requested delivery stop as read from a manifest file
type ManifestRow struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
}

// Coordinate is a [longitude, latitude] pair, the order the matrix service expects
type Coordinate [2]float64

// Lng returns the longitude
func (c Coordinate) Lng() float64 { return c[0] }

// Lat returns the latitude
func (c Coordinate) Lat() float64 { return c[1] }

// MatrixRequest asks a matrix service for distances and durations.
// Empty Sources or Destinations mean all locations.
type MatrixRequest struct {
	Locations    []Coordinate
	Sources      []int
	Destinations []int
}

// MatrixResponse holds one block of results, rows follow Sources and
// columns follow Destinations.
type MatrixResponse struct {
	Distances [][]float64
	Durations [][]float64
}

// ParseIndex normalizes a textual registry key. Tabular tools write the same
// key as "12", " 12" or "12.0" depending on the axis, so every boundary that
// reads keys goes through here.
func ParseIndex(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty index")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("index %q is not an integer", raw)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("index %q out of range", raw)
	}
	return int(f), nil
}
